package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aktenwerk/aktenwerk/internal/config"
	"github.com/aktenwerk/aktenwerk/internal/deltasync"
)

// SyncOptions holds flags shared by the sync subcommands.
type SyncOptions struct {
	*RootOptions
	Out     string
	Version int64
}

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Chunk-level delta synchronization primitives",
		Long: `Chunk-level delta synchronization primitives.

'hashes' advertises a file as a chunk-list frame, 'delta' turns a peer's
frame into the patch frames it is missing, and 'apply' patches a local
file with received frames. The frames are opaque CBOR bytes; moving
them between devices (file copy, pipe, any transport) is up to the
caller.`,
	}

	cmd.AddCommand(newSyncHashesCommand(rootOpts))
	cmd.AddCommand(newSyncDeltaCommand(rootOpts))
	cmd.AddCommand(newSyncApplyCommand(rootOpts))

	return cmd
}

func newSyncHashesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "hashes <file>",
		Short:         "Write a file's chunk-list frame",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncHashes(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "frame output file (default: <file>.chunks)")
	cmd.Flags().Int64Var(&opts.Version, "version", 1, "version number to advertise")

	return cmd
}

func newSyncDeltaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "delta <local-file> <remote-frame>",
		Short:         "Write the patch frames a peer is missing",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncDelta(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "patch output file (default: <local-file>.patch)")
	cmd.Flags().Int64Var(&opts.Version, "version", 1, "version number to advertise")

	return cmd
}

func newSyncApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "apply <target-file> <patch-frames>",
		Short:         "Apply received patch frames to a local file",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncApply(opts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runSyncHashes(opts *SyncOptions, path string, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}

	syncer, err := deltasync.NewSyncer(cfg.Sync.ChunkSize)
	if err != nil {
		return WrapExitError(ExitCommandError, "configuring syncer", err)
	}

	hashes, err := fileChunkHashes(syncer, path)
	if err != nil {
		return err
	}

	out := opts.Out
	if out == "" {
		out = path + ".chunks"
	}
	frame := deltasync.ChunkListFrame{
		Path:      path,
		VersionNo: opts.Version,
		ChunkSize: syncer.ChunkSize(),
		Hashes:    hashes,
	}
	if err := writeFrameFile(out, func(w io.Writer) error {
		return deltasync.EncodeChunkList(w, frame)
	}); err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"frame":  out,
			"chunks": len(hashes),
			"hashes": hashes,
		})
	}
	fmt.Fprintf(formatter.Writer, "%s: %d chunks -> %s\n", path, len(hashes), out)
	for i, h := range hashes {
		formatter.VerboseLog("chunk %d %s", i, h)
	}
	return nil
}

func runSyncDelta(opts *SyncOptions, localPath, framePath string, cmd *cobra.Command) error {
	remoteFrame, err := readChunkListFrame(framePath)
	if err != nil {
		return err
	}

	// Chunk boundaries must line up with the peer's or every hash
	// differs; the advertised size wins over local config.
	syncer, err := deltasync.NewSyncer(remoteFrame.ChunkSize)
	if err != nil {
		return WrapExitError(ExitFailure, "remote frame chunk size", err)
	}

	localHashes, err := fileChunkHashes(syncer, localPath)
	if err != nil {
		return err
	}

	changed := deltasync.CalculateDelta(localHashes, remoteFrame.Hashes)

	local, err := os.Open(localPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening local file", err)
	}
	defer local.Close()

	out := opts.Out
	if out == "" {
		out = localPath + ".patch"
	}
	err = writeFrameFile(out, func(w io.Writer) error {
		buf := make([]byte, syncer.ChunkSize())
		for _, idx := range changed {
			n, err := local.ReadAt(buf, int64(idx)*int64(syncer.ChunkSize()))
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read chunk %d: %w", idx, err)
			}
			if n == 0 {
				// Chunk exists only on the remote; nothing to send.
				continue
			}
			frame := deltasync.PatchFrame{
				Path:       remoteFrame.Path,
				VersionNo:  opts.Version,
				ChunkSize:  syncer.ChunkSize(),
				ChunkIndex: idx,
				Data:       buf[:n],
			}
			if err := deltasync.EncodePatch(w, frame); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"patch":   out,
			"changed": changed,
		})
	}
	fmt.Fprintf(formatter.Writer, "%d of %d chunks differ -> %s\n", len(changed), len(localHashes), out)
	return nil
}

func runSyncApply(opts *SyncOptions, targetPath, patchPath string, cmd *cobra.Command) error {
	patches, err := os.Open(patchPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening patch frames", err)
	}
	defer patches.Close()

	target, err := os.OpenFile(targetPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening target file", err)
	}
	defer target.Close()

	applied := 0
	dec := deltasync.NewPatchDecoder(patches)
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return WrapExitError(ExitFailure, "decoding patch frame", err)
		}
		// Each frame names its own chunking; never assume local
		// config matches the sender's.
		syncer, err := deltasync.NewSyncer(frame.ChunkSize)
		if err != nil {
			return WrapExitError(ExitFailure, "patch frame chunk size", err)
		}
		if err := syncer.ApplyPatch(target, frame.ChunkIndex, frame.Data); err != nil {
			return WrapExitError(ExitFailure, "applying patch frame", err)
		}
		applied++
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"target": targetPath, "applied": applied})
	}
	fmt.Fprintf(formatter.Writer, "Applied %d patch frames to %s\n", applied, targetPath)
	return nil
}

// fileChunkHashes hashes a file's fixed-size chunks.
func fileChunkHashes(s *deltasync.Syncer, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening file", err)
	}
	defer f.Close()

	hashes, err := s.ChunkHashes(f)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "hashing chunks", err)
	}
	return hashes, nil
}

func readChunkListFrame(path string) (deltasync.ChunkListFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return deltasync.ChunkListFrame{}, WrapExitError(ExitCommandError, "opening frame file", err)
	}
	defer f.Close()

	frame, err := deltasync.DecodeChunkList(f)
	if err != nil {
		return deltasync.ChunkListFrame{}, WrapExitError(ExitFailure, "decoding chunk-list frame", err)
	}
	return frame, nil
}

// writeFrameFile writes frames through a temp file and rename so a
// half-written frame file is never observed.
func writeFrameFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frame-*")
	if err != nil {
		return WrapExitError(ExitCommandError, "creating frame file", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return WrapExitError(ExitCommandError, "writing frames", err)
	}
	if err := tmp.Close(); err != nil {
		return WrapExitError(ExitCommandError, "closing frame file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return WrapExitError(ExitCommandError, "placing frame file", err)
	}
	return nil
}
