package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aktenwerk/aktenwerk/internal/crdt"
	"github.com/aktenwerk/aktenwerk/internal/store"
)

// NewRecordCommand creates the record command group.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect and reconcile a folder's customer record",
	}

	cmd.AddCommand(newRecordShowCommand(rootOpts))
	cmd.AddCommand(newRecordSetCommand(rootOpts))
	cmd.AddCommand(newRecordMergeCommand(rootOpts))

	return cmd
}

func newRecordShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <kdnr>",
		Short:         "Print a folder's record as a sync payload",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordShow(rootOpts, args[0], cmd)
		},
	}
}

func newRecordSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <kdnr> <field> <value>",
		Short: "Write one record field locally",
		Long: `Write one record field locally.

The value is parsed as JSON when possible (numbers, booleans, objects)
and stored as a plain string otherwise. The write is stamped with this
device's peer ID and the current wall clock, so it wins last-writer-wins
resolution against any older remote edit of the same field.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordSet(rootOpts, args[0], args[1], args[2], cmd)
		},
	}
}

func newRecordMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <kdnr> [payload-file]",
		Short: "Merge a remote record payload into a folder",
		Long: `Merge a remote record payload into a folder.

The payload is the JSON produced by 'record show' on another device
(read from the file argument, or stdin when omitted). Each field
resolves independently by last-writer-wins, so concurrent edits to
different fields both survive. The merged record is printed; feeding it
back to the other device converges both.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payloadFile := ""
			if len(args) == 2 {
				payloadFile = args[1]
			}
			return runRecordMerge(rootOpts, args[0], payloadFile, cmd)
		},
	}
}

func runRecordShow(opts *RootOptions, kdnr string, cmd *cobra.Command) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	folder, err := folderByKdNr(a, cmd, kdnr)
	if err != nil {
		return err
	}
	rec, err := a.store.RecordFields(cmd.Context(), folder.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading record", err)
	}
	return printRecordPayload(cmd.OutOrStdout(), rec)
}

func runRecordSet(opts *RootOptions, kdnr, field, raw string, cmd *cobra.Command) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	folder, err := folderByKdNr(a, cmd, kdnr)
	if err != nil {
		return err
	}
	rec, err := a.store.RecordFields(cmd.Context(), folder.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading record", err)
	}

	rec.Set(field, parseValue(raw), a.cfg.PeerID, crdt.WallClock{})
	if err := a.store.SetRecordField(cmd.Context(), folder.ID, field, rec[field]); err != nil {
		return WrapExitError(ExitCommandError, "writing record field", err)
	}
	return printRecordPayload(cmd.OutOrStdout(), rec)
}

func runRecordMerge(opts *RootOptions, kdnr, payloadFile string, cmd *cobra.Command) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	folder, err := folderByKdNr(a, cmd, kdnr)
	if err != nil {
		return err
	}

	var payload []byte
	if payloadFile == "" {
		payload, err = io.ReadAll(cmd.InOrStdin())
	} else {
		payload, err = os.ReadFile(payloadFile)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "reading payload", err)
	}

	incoming, err := crdt.UnmarshalPayload(payload)
	if err != nil {
		return WrapExitError(ExitFailure, "parsing payload", err)
	}

	merged, err := a.store.MergeRecord(cmd.Context(), folder.ID, incoming)
	if err != nil {
		return WrapExitError(ExitCommandError, "merging record", err)
	}
	return printRecordPayload(cmd.OutOrStdout(), merged)
}

// folderByKdNr resolves a customer number or fails with a clean exit.
func folderByKdNr(a *app, cmd *cobra.Command, kdnr string) (store.Folder, error) {
	folder, err := a.store.FolderByKdNr(cmd.Context(), kdnr)
	if errors.Is(err, store.ErrNotFound) {
		return store.Folder{}, NewExitError(ExitFailure, "no folder with KdNr "+kdnr)
	}
	if err != nil {
		return store.Folder{}, WrapExitError(ExitCommandError, "looking up folder", err)
	}
	return folder, nil
}

// printRecordPayload writes the record in its wire form, which doubles
// as the human-readable view.
func printRecordPayload(w io.Writer, rec crdt.Record) error {
	data, err := crdt.MarshalPayload(rec)
	if err != nil {
		return WrapExitError(ExitCommandError, "encoding record", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// parseValue interprets flag/arg values: valid JSON stays typed,
// everything else is a string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
