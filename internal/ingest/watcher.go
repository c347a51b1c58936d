package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher auto-submits files dropped into an inbox directory (the
// scanner's output folder, a network share, a phone upload target).
// Each new file becomes a regular registry job; everything downstream
// is the normal poll/confirm flow.
type Watcher struct {
	registry *Registry
	dir      string
	settle   time.Duration
	logger   *slog.Logger

	// Submitted receives the token of each auto-submitted file when
	// non-nil. The channel must be drained by the consumer.
	Submitted chan<- string
}

// NewWatcher creates a Watcher over dir. The directory is created if
// missing.
func NewWatcher(registry *Registry, dir string, logger *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("new watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		registry: registry,
		dir:      dir,
		settle:   200 * time.Millisecond,
		logger:   logger.With("component", "inbox"),
	}, nil
}

// Run watches the inbox until ctx is done. Files are read after a
// short settle delay so a writer that creates-then-writes has
// finished; a file that is still growing is submitted with whatever
// bytes are present, the same trade a polling scanner folder makes.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox watcher: watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching inbox", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			w.submitFile(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watch error", "error", err)
		}
	}
}

func (w *Watcher) submitFile(ctx context.Context, path string) {
	select {
	case <-time.After(w.settle):
	case <-ctx.Done():
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("inbox read failed", "file", path, "error", err)
		return
	}

	token, err := w.registry.Submit(ctx, filepath.Base(path), data)
	if err != nil {
		w.logger.Warn("inbox submit failed", "file", path, "error", err)
		return
	}

	// The inbox copy served its purpose; the staged copy is
	// authoritative from here.
	if err := os.Remove(path); err != nil {
		w.logger.Warn("inbox cleanup failed", "file", path, "error", err)
	}

	w.logger.Info("inbox file submitted", "file", path, "token", token)
	if w.Submitted != nil {
		select {
		case w.Submitted <- token:
		case <-ctx.Done():
		}
	}
}
