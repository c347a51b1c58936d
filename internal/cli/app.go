package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aktenwerk/aktenwerk/internal/archive"
	"github.com/aktenwerk/aktenwerk/internal/config"
	"github.com/aktenwerk/aktenwerk/internal/ingest"
	"github.com/aktenwerk/aktenwerk/internal/match"
	"github.com/aktenwerk/aktenwerk/internal/store"
)

// app bundles the collaborators a command needs, wired from config.
// Commands build exactly the services they use; closing the app closes
// the registry (if built) and the store.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	archive  *archive.Archive
	matcher  *match.Matcher
	registry *ingest.Registry
}

// newApp loads configuration and opens the store, archive and
// matcher. The ingest registry is expensive only in its worker pool,
// so it is built lazily by commands that need it (see withRegistry).
func newApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}

	logger, err := newLogger(cfg.Logging, opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuring logging", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "creating database directory", err)
		}
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening store", err)
	}

	arch, err := archive.New(archive.Options{
		Root:        cfg.Archive.Root,
		MaxFileSize: cfg.Archive.MaxFileSize,
		Extensions:  cfg.Archive.Extensions,
	}, st, logger)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "opening archive", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		archive: arch,
		matcher: match.New(cfg.Match.Threshold),
	}, nil
}

// withRegistry builds the ingest registry on top of the app's services.
func (a *app) withRegistry() error {
	reg, err := ingest.NewRegistry(ingest.Options{
		StagingDir: a.cfg.Ingest.StagingDir,
		Workers:    a.cfg.Ingest.Workers,
		JobTimeout: a.cfg.Ingest.JobTimeout,
	}, &ingest.TextExtractor{}, a.matcher, a.archive, a.store, a.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "starting ingest registry", err)
	}
	a.registry = reg
	return nil
}

// Close releases the app's resources in dependency order.
func (a *app) Close() error {
	if a.registry != nil {
		a.registry.Close()
	}
	return a.store.Close()
}

// newLogger builds the process logger per config. The --verbose flag
// forces debug level regardless of the configured one. Logs always go
// to stderr so JSON command output on stdout stays parseable.
func newLogger(cfg config.LoggingConfig, verbose bool) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}
	if verbose {
		level = slog.LevelDebug
	}

	ho := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, ho)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, ho)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}
