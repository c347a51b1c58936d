package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/aktenwerk/aktenwerk/internal/ingest"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Submit a file for analysis and print its job token",
		Long: `Submit a file for analysis and print its job token.

The file is staged, analyzed (text extraction, classification, customer
matching) and left pending with machine suggestions. Review them with
'status', then file the document with 'confirm' or discard it with
'cancel'.

Example:
  aktenwerk ingest scans/rechnung-mueller.pdf`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

// jobView is the command output for a pending or failed job.
type jobView struct {
	Token       string             `json:"token"`
	Status      ingest.Status      `json:"status"`
	File        string             `json:"file"`
	Suggestions ingest.Suggestions `json:"suggestions,omitempty"`
	Error       *ingest.JobError   `json:"error,omitempty"`
}

func runIngest(opts *RootOptions, path string, cmd *cobra.Command) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withRegistry(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading input file", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	token, err := a.registry.Submit(cmd.Context(), filepath.Base(path), data)
	if err != nil {
		return WrapExitError(ExitCommandError, "submitting file", err)
	}
	formatter.VerboseLog("submitted %s as job %s", path, token)

	job, err := awaitTerminal(a.registry, token, a.cfg.Ingest.JobTimeout)
	if err != nil {
		return WrapExitError(ExitFailure, "waiting for analysis", err)
	}

	// Persist the snapshot so status/confirm/cancel can pick the
	// token up from a fresh process.
	if err := saveSession(a.cfg.Ingest.StagingDir, job); err != nil {
		return WrapExitError(ExitCommandError, "persisting job", err)
	}

	return printJob(formatter, job)
}

// awaitTerminal polls until the job leaves ANALYZING. The registry
// guarantees a terminal state within its job timeout; the extra grace
// covers scheduler slack on a loaded machine.
func awaitTerminal(reg *ingest.Registry, token string, timeout time.Duration) (ingest.Job, error) {
	deadline := time.Now().Add(timeout + 10*time.Second)
	for {
		job, err := reg.Poll(token)
		if err != nil {
			return ingest.Job{}, err
		}
		if job.Status != ingest.StatusAnalyzing {
			return job, nil
		}
		if time.Now().After(deadline) {
			return ingest.Job{}, errors.New("job did not reach a terminal state")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func printJob(f *OutputFormatter, job ingest.Job) error {
	view := jobView{
		Token:       job.Token,
		Status:      job.Status,
		File:        job.Filename,
		Suggestions: job.Suggestions,
		Error:       job.Err,
	}

	if f.Format == "json" {
		return f.Success(view)
	}

	fmt.Fprintf(f.Writer, "Token:  %s\n", view.Token)
	fmt.Fprintf(f.Writer, "File:   %s\n", view.File)
	fmt.Fprintf(f.Writer, "Status: %s\n", view.Status)
	if view.Error != nil {
		fmt.Fprintf(f.Writer, "Error:  [%s] %s\n", view.Error.Code, view.Error.Message)
		return nil
	}

	s := view.Suggestions
	if s.KdNr != "" {
		fmt.Fprintf(f.Writer, "KdNr:   %s\n", s.KdNr)
	}
	if s.DocType != "" {
		fmt.Fprintf(f.Writer, "Type:   %s\n", s.DocType)
	}
	if s.DocDate != "" {
		fmt.Fprintf(f.Writer, "Date:   %s\n", s.DocDate)
	}
	for i, c := range s.Candidates {
		marker := " "
		if c.Confident {
			marker = "*"
		}
		fmt.Fprintf(f.Writer, "Match %d:%s %s (KdNr %s, score %.2f)\n",
			i+1, marker, c.Identity.DisplayName, c.Identity.KdNr, c.Score)
	}
	return nil
}
