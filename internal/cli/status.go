package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status <token>",
		Short:         "Show a pending job's state and suggestions",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runStatus(opts *RootOptions, token string, cmd *cobra.Command) error {
	a, err := newApp(opts)
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

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	return printJob(formatter, job)
}
