package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "aktenwerk.db", cfg.Database.Path)
	assert.Equal(t, int64(4), cfg.Ingest.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Ingest.JobTimeout)
	assert.Equal(t, 0.6, cfg.Match.Threshold)
	assert.Equal(t, 1<<20, cfg.Sync.ChunkSize)
	assert.NotEmpty(t, cfg.PeerID)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
peerId: hub-berlin
database:
  path: /data/werk.db
ingest:
  workers: 8
  jobTimeout: 5m
match:
  threshold: 0.75
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hub-berlin", cfg.PeerID)
	assert.Equal(t, "/data/werk.db", cfg.Database.Path)
	assert.Equal(t, int64(8), cfg.Ingest.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Ingest.JobTimeout)
	assert.Equal(t, 0.75, cfg.Match.Threshold)

	// Untouched sections keep defaults.
	assert.Equal(t, "archive", cfg.Archive.Root)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("peerId: from-file\n"), 0o644))

	t.Setenv("AKTENWERK_PEER_ID", "from-env")
	t.Setenv("AKTENWERK_WORKERS", "16")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.PeerID)
	assert.Equal(t, int64(16), cfg.Ingest.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero workers", "ingest:\n  workers: -1\n"},
		{"threshold above one", "match:\n  threshold: 1.5\n"},
		{"negative chunk size", "sync:\n  chunkSize: -4\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
