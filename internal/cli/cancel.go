package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cancel <token>",
		Short:         "Discard a pending job and its staged file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCancel(opts *RootOptions, token string, cmd *cobra.Command) error {
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
	removeSession(a.cfg.Ingest.StagingDir, job)

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.Format == "json" {
		return formatter.Success(map[string]string{"token": token, "status": "canceled"})
	}
	fmt.Fprintf(formatter.Writer, "Canceled %s\n", token)
	return nil
}
