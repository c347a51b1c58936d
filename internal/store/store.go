package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Baseline: folders, documents, versions, records
// 2 - Full-text search over document text (structural FTS table now,
// population in the background)
const currentSchemaVersion = 2

// ErrNotFound reports a missing folder, document, or version.
var ErrNotFound = errors.New("not found")

// ErrSearchUnavailable reports a binary compiled without the sqlite
// fts5 module (build with -tags fts5). Everything except full-text
// search works without it.
var ErrSearchUnavailable = errors.New("full-text search unavailable")

// Store provides durable storage for the archive's index and records.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// bg tracks detached background work (index population) so Close
	// can wait for it instead of tearing the database out from under
	// a running job.
	bg sync.WaitGroup
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times. When a
// migration defers population work, Open launches it in the background
// and returns immediately; startup never blocks on it.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	// to a single one and avoid SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s := &Store{db: db, logger: logger}

	needsIndexBuild, err := applySchema(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if needsIndexBuild {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if err := s.populateSearchIndex(); err != nil {
				// Population is retried on next rebuild; a failure
				// here must not take the process down.
				logger.Warn("background search index build failed", "error", err)
				return
			}
			logger.Info("search index build complete")
		}()
	}

	return s, nil
}

// Close waits for background work and closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.bg.Wait()
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent. The returned flag reports whether a
// migration deferred index population to the background.
func applySchema(db *sql.DB) (needsIndexBuild bool, err error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return false, fmt.Errorf("failed to execute schema: %w", err)
	}

	needsIndexBuild, err = runMigrations(db)
	if err != nil {
		return false, fmt.Errorf("failed to run migrations: %w", err)
	}

	return needsIndexBuild, nil
}

// runMigrations applies incremental schema migrations based on
// user_version. The version counter advances once the structural part
// of every pending migration is done; deferred population work is
// reported to the caller, never waited on here.
func runMigrations(db *sql.DB) (needsIndexBuild bool, err error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return false, fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return false, fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, currentSchemaVersion)
	}

	// Migrations apply sequentially. v1 is the baseline schema, which
	// schema.sql already created above. v2's structural part (the
	// full-text table) runs outside the version gate, so a database
	// first opened by a build lacking fts5 gains the index the first
	// time a capable build opens it.
	needsIndexBuild, err = ensureSearchIndex(db)
	if err != nil {
		return false, err
	}

	// Set version after all structural migrations
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return false, fmt.Errorf("set user_version: %w", err)
	}

	return needsIndexBuild, nil
}

// ensureSearchIndex creates the full-text index over document text.
// Only the table creation happens here; populating it from existing
// documents is the deferred background part, so opening a large
// existing archive stays fast.
//
// A binary compiled without the fts5 module still opens and migrates;
// search is simply unavailable (see ErrSearchUnavailable). The
// returned flag reports a newly created table in need of population.
func ensureSearchIndex(db *sql.DB) (bool, error) {
	var n int
	err := db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'documents_fts'`,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check search index: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	_, err = db.Exec(`
		CREATE VIRTUAL TABLE documents_fts
		USING fts5(extracted_text, content='documents', content_rowid='id')
	`)
	if isNoFTSModule(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create search index: %w", err)
	}
	return true, nil
}

// isNoFTSModule matches the driver error for a build lacking fts5.
func isNoFTSModule(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such module: fts5")
}

// isNoFTSTable matches queries against the index on such a build.
func isNoFTSTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table: documents_fts")
}

// populateSearchIndex rebuilds documents_fts from the documents table.
// Runs detached from Open; correctness never depends on when (or
// whether) it finishes, because queries against a partially built
// index just return fewer hits.
func (s *Store) populateSearchIndex() error {
	_, err := s.db.Exec(`INSERT INTO documents_fts(documents_fts) VALUES ('rebuild')`)
	if err != nil {
		return fmt.Errorf("populate search index: %w", err)
	}
	return nil
}

// SchemaVersion returns the store's current user_version. Exposed for
// diagnostics and tests.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("pragma %s = %q, expected %q", name, value, expected)
	}
	return nil
}
