package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aktenwerk/aktenwerk/internal/ingest"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch an inbox directory and auto-submit new files",
		Long: `Watch an inbox directory and auto-submit new files.

Every file dropped into the inbox is submitted for analysis; its token
and result are printed as analysis completes. Jobs stay pending for
'status', 'confirm' and 'cancel' from another terminal. Runs until
interrupted. The directory defaults to the configured inbox.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runWatch(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runWatch(opts *RootOptions, dir string, cmd *cobra.Command) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withRegistry(); err != nil {
		return err
	}

	if dir == "" {
		dir = a.cfg.Ingest.InboxDir
	}

	watcher, err := ingest.NewWatcher(a.registry, dir, a.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "starting inbox watcher", err)
	}

	tokens := make(chan string, 16)
	watcher.Submitted = tokens

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Analyses run concurrently inside the registry; reporting stays
	// sequential so job blocks don't interleave on the terminal.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for token := range tokens {
			reportJob(a, formatter, token)
		}
	}()

	err = watcher.Run(ctx)
	close(tokens)
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reportJob waits for one auto-submitted job to finish analysis,
// persists it for the confirm/cancel commands and prints the outcome.
func reportJob(a *app, f *OutputFormatter, token string) {
	job, err := awaitTerminal(a.registry, token, a.cfg.Ingest.JobTimeout)
	if err != nil {
		f.VerboseLog("job %s: %v", token, err)
		return
	}
	if err := saveSession(a.cfg.Ingest.StagingDir, job); err != nil {
		a.logger.Warn("persisting job failed", "token", token, "error", err)
	}
	if err := printJob(f, job); err != nil {
		a.logger.Warn("printing job failed", "token", token, "error", err)
	}
	fmt.Fprintln(f.Writer)
}
