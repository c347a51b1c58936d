package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aktenwerk/aktenwerk/internal/archive"
	"github.com/aktenwerk/aktenwerk/internal/ingest"
)

// ConfirmOptions holds flags for the confirm command.
type ConfirmOptions struct {
	*RootOptions
	KdNr         string
	SelectedKdNr string
	Name         string
	Address      string
	DocType      string
	DocDate      string
}

// NewConfirmCommand creates the confirm command.
func NewConfirmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfirmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "confirm <token>",
		Short: "File a pending document into the archive",
		Long: `File a pending document into the archive.

Flag values win over machine suggestions; empty flags fall back to the
suggested values. --select-kdnr accepts a fuzzy-match candidate and
must name an existing folder; --kdnr files under that exact customer
number, creating the folder if needed.

Example:
  aktenwerk confirm 3f2a... --kdnr 10044 --doc-type rechnung`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfirm(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KdNr, "kdnr", "", "customer number to file under (creates the folder)")
	cmd.Flags().StringVar(&opts.SelectedKdNr, "select-kdnr", "", "accept a fuzzy-match candidate by customer number")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name for a newly created folder")
	cmd.Flags().StringVar(&opts.Address, "address", "", "address for a newly created folder")
	cmd.Flags().StringVar(&opts.DocType, "doc-type", "", "document type (overrides the suggestion)")
	cmd.Flags().StringVar(&opts.DocDate, "doc-date", "", "document date (overrides the suggestion)")

	return cmd
}

// resultView is the command output for a completed filing.
type resultView struct {
	Folder        string `json:"folder"`
	Path          string `json:"path"`
	VersionNo     int64  `json:"version"`
	CreatedFolder bool   `json:"created_folder"`
	Deduplicated  bool   `json:"deduplicated"`
}

func runConfirm(opts *ConfirmOptions, token string, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := loadSession(a.cfg.Ingest.StagingDir, token)
	if errors.Is(err, ErrSessionNotFound) {
		return NewExitError(ExitFailure, "unknown token "+token)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "loading job", err)
	}
	if job.Status == ingest.StatusError {
		return WrapExitError(ExitFailure, "job failed; cancel it or re-ingest", job.Err)
	}

	answers := ingest.MergeAnswers(archive.Answers{
		KdNr:         opts.KdNr,
		SelectedKdNr: opts.SelectedKdNr,
		DisplayName:  opts.Name,
		Address:      opts.Address,
		DocType:      opts.DocType,
		DocDate:      opts.DocDate,
	}, job.Suggestions)

	data, err := os.ReadFile(job.StagedPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading staged file", err)
	}

	result, err := a.archive.Commit(cmd.Context(), answers, data, job.Filename)
	if err != nil {
		// The token stays valid so the caller can correct answers
		// and retry.
		return WrapExitError(ExitFailure, "filing document", err)
	}
	removeSession(a.cfg.Ingest.StagingDir, job)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	view := resultView{
		Folder:        result.Folder,
		Path:          result.Path,
		VersionNo:     result.VersionNo,
		CreatedFolder: result.CreatedFolder,
		Deduplicated:  result.Deduplicated,
	}
	if formatter.Format == "json" {
		return formatter.Success(view)
	}

	if view.Deduplicated {
		fmt.Fprintf(formatter.Writer, "Already archived: %s (v%d)\n", view.Path, view.VersionNo)
		return nil
	}
	fmt.Fprintf(formatter.Writer, "Archived: %s (v%d)\n", view.Path, view.VersionNo)
	if view.CreatedFolder {
		fmt.Fprintf(formatter.Writer, "Created folder: %s\n", view.Folder)
	}
	return nil
}
