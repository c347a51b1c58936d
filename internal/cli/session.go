package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aktenwerk/aktenwerk/internal/ingest"
)

// ErrSessionNotFound reports an unknown or already-consumed token.
var ErrSessionNotFound = errors.New("unknown token")

// session persists one terminal job snapshot next to its staged file
// so status/confirm/cancel work from a later process. The registry
// itself is in-memory; the sidecar is the CLI's hand-off.
type session struct {
	ingest.Job
}

func sessionPath(stagingDir, token string) string {
	return filepath.Join(stagingDir, token+".job.json")
}

// saveSession writes the job snapshot as a sidecar in the staging dir.
func saveSession(stagingDir string, j ingest.Job) error {
	data, err := json.MarshalIndent(session{Job: j}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(sessionPath(stagingDir, j.Token), data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// loadSession reads a job snapshot back by token.
func loadSession(stagingDir, token string) (ingest.Job, error) {
	data, err := os.ReadFile(sessionPath(stagingDir, token))
	if errors.Is(err, fs.ErrNotExist) {
		return ingest.Job{}, ErrSessionNotFound
	}
	if err != nil {
		return ingest.Job{}, fmt.Errorf("read session: %w", err)
	}
	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		return ingest.Job{}, fmt.Errorf("decode session %s: %w", token, err)
	}
	return s.Job, nil
}

// removeSession consumes a token: sidecar and staged file are gone
// afterwards. Missing files are not an error so cleanup is idempotent.
func removeSession(stagingDir string, j ingest.Job) {
	os.Remove(sessionPath(stagingDir, j.Token))
	if j.StagedPath != "" {
		os.Remove(j.StagedPath)
	}
}
