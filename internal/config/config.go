// Package config loads and validates application configuration from a
// YAML file with environment-variable overrides. It provides typed
// structs for every subsystem (Database, Archive, Ingest, Match, Sync,
// Logging).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	PeerID   string         `yaml:"peerId"`
	Database DatabaseConfig `yaml:"database"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Match    MatchConfig    `yaml:"match"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds the SQLite index location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ArchiveConfig holds document store placement and validation limits.
type ArchiveConfig struct {
	Root        string   `yaml:"root"`
	MaxFileSize int64    `yaml:"maxFileSize"`
	Extensions  []string `yaml:"extensions"`
}

// IngestConfig holds the job registry's pool and staging settings.
type IngestConfig struct {
	StagingDir string        `yaml:"stagingDir"`
	InboxDir   string        `yaml:"inboxDir"`
	Workers    int64         `yaml:"workers"`
	JobTimeout time.Duration `yaml:"jobTimeout"`
}

// UnmarshalYAML overlays only the fields present in the document so
// defaults survive a partial config, and accepts jobTimeout as a
// duration string ("90s", "5m").
func (c *IngestConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		StagingDir *string `yaml:"stagingDir"`
		InboxDir   *string `yaml:"inboxDir"`
		Workers    *int64  `yaml:"workers"`
		JobTimeout *string `yaml:"jobTimeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.StagingDir != nil {
		c.StagingDir = *raw.StagingDir
	}
	if raw.InboxDir != nil {
		c.InboxDir = *raw.InboxDir
	}
	if raw.Workers != nil {
		c.Workers = *raw.Workers
	}
	if raw.JobTimeout != nil {
		d, err := time.ParseDuration(*raw.JobTimeout)
		if err != nil {
			return fmt.Errorf("ingest.jobTimeout: %w", err)
		}
		c.JobTimeout = d
	}
	return nil
}

// MatchConfig holds the fuzzy matcher's confidence threshold.
type MatchConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// SyncConfig holds delta-sync tuning.
type SyncConfig struct {
	ChunkSize int `yaml:"chunkSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file (if provided) and applies
// environment-variable overrides. It returns a Config populated with
// sensible defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with working defaults for a local
// single-device setup.
func defaultConfig() *Config {
	return &Config{
		PeerID: defaultPeerID(),
		Database: DatabaseConfig{
			Path: "aktenwerk.db",
		},
		Archive: ArchiveConfig{
			Root:        "archive",
			MaxFileSize: 100 << 20,
		},
		Ingest: IngestConfig{
			StagingDir: "staging",
			InboxDir:   "inbox",
			Workers:    4,
			JobTimeout: 2 * time.Minute,
		},
		Match: MatchConfig{
			Threshold: 0.6,
		},
		Sync: SyncConfig{
			ChunkSize: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaultPeerID derives a stable peer identity from the hostname so
// two devices on the same sync mesh rarely collide out of the box.
func defaultPeerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "peer-local"
	}
	return host
}

// applyEnvOverrides reads AKTENWERK_* environment variables and
// overrides the corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AKTENWERK_PEER_ID"); v != "" {
		cfg.PeerID = v
	}
	if v := os.Getenv("AKTENWERK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("AKTENWERK_ARCHIVE_ROOT"); v != "" {
		cfg.Archive.Root = v
	}
	if v := os.Getenv("AKTENWERK_STAGING_DIR"); v != "" {
		cfg.Ingest.StagingDir = v
	}
	if v := os.Getenv("AKTENWERK_INBOX_DIR"); v != "" {
		cfg.Ingest.InboxDir = v
	}
	if v := os.Getenv("AKTENWERK_WORKERS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ingest.Workers = n
		}
	}
	if v := os.Getenv("AKTENWERK_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.JobTimeout = d
		}
	}
	if v := os.Getenv("AKTENWERK_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Match.Threshold = f
		}
	}
	if v := os.Getenv("AKTENWERK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AKTENWERK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func (c *Config) validate() error {
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("config: ingest workers must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Match.Threshold < 0 || c.Match.Threshold > 1 {
		return fmt.Errorf("config: match threshold must be in [0,1], got %v", c.Match.Threshold)
	}
	if c.Sync.ChunkSize < 1 {
		return fmt.Errorf("config: sync chunk size must be positive, got %d", c.Sync.ChunkSize)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path required")
	}
	return nil
}
