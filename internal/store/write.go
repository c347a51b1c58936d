package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aktenwerk/aktenwerk/internal/crdt"
)

// CreateFolder inserts a new folder and returns it. An empty kdnr is
// stored as NULL so the UNIQUE constraint only applies to real
// customer numbers.
func (s *Store) CreateFolder(ctx context.Context, kdnr, displayName, address string) (Folder, error) {
	f := Folder{
		KdNr:        kdnr,
		DisplayName: displayName,
		Address:     address,
		CreatedAt:   time.Now().UTC(),
	}

	var kdnrValue any
	if kdnr != "" {
		kdnrValue = kdnr
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (kdnr, display_name, address, created_at)
		VALUES (?, ?, ?, ?)
	`, kdnrValue, displayName, address, f.CreatedAt)
	if err != nil {
		return Folder{}, fmt.Errorf("create folder: %w", err)
	}
	f.ID, err = res.LastInsertId()
	if err != nil {
		return Folder{}, fmt.Errorf("create folder: %w", err)
	}
	return f, nil
}

// EnsureDocument returns the document for (folder, type, date),
// creating it if absent. Extracted text is updated on every call so
// the search index reflects the latest analysis.
func (s *Store) EnsureDocument(ctx context.Context, folderID int64, docType, docDate, extractedText string) (Document, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (folder_id, doc_type, doc_date, extracted_text)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(folder_id, doc_type, doc_date)
		DO UPDATE SET extracted_text = excluded.extracted_text
	`, folderID, docType, docDate, extractedText)
	if err != nil {
		return Document{}, fmt.Errorf("ensure document: %w", err)
	}

	doc, err := s.documentByIdentity(ctx, folderID, docType, docDate)
	if err != nil {
		return Document{}, fmt.Errorf("ensure document: %w", err)
	}
	return doc, nil
}

// InsertVersion appends a version row with the given number. The
// UNIQUE(document_id, version_no) constraint rejects a number that was
// already taken, so a racing writer fails loudly instead of silently
// reusing a version.
func (s *Store) InsertVersion(ctx context.Context, v Version) (Version, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO versions (document_id, version_no, content_hash, storage_path, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.DocumentID, v.VersionNo, v.ContentHash, v.StoragePath, v.Size, v.CreatedAt)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}
	v.ID, err = res.LastInsertId()
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}
	return v, nil
}

// CommitVersion upserts the document identity and appends its version
// row in a single transaction. A failed version insert rolls the
// document upsert back with it, so the index never gains a document
// without at least one version.
func (s *Store) CommitVersion(ctx context.Context, folderID int64, docType, docDate, extractedText string, v Version) (Version, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, fmt.Errorf("commit version: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (folder_id, doc_type, doc_date, extracted_text)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(folder_id, doc_type, doc_date)
		DO UPDATE SET extracted_text = excluded.extracted_text
	`, folderID, docType, docDate, extractedText)
	if err != nil {
		return Version{}, fmt.Errorf("commit version: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT id FROM documents WHERE folder_id = ? AND doc_type = ? AND doc_date = ?
	`, folderID, docType, docDate).Scan(&v.DocumentID)
	if err != nil {
		return Version{}, fmt.Errorf("commit version: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO versions (document_id, version_no, content_hash, storage_path, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.DocumentID, v.VersionNo, v.ContentHash, v.StoragePath, v.Size, v.CreatedAt)
	if err != nil {
		return Version{}, fmt.Errorf("commit version: %w", err)
	}
	v.ID, err = res.LastInsertId()
	if err != nil {
		return Version{}, fmt.Errorf("commit version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit version: commit: %w", err)
	}
	return v, nil
}

// SetRecordField performs a local write of one record field: the
// register row is replaced wholesale with the new value and metadata.
func (s *Store) SetRecordField(ctx context.Context, folderID int64, field string, reg crdt.Register) error {
	value, err := marshalValue(reg.Value)
	if err != nil {
		return fmt.Errorf("set record field %q: %w", field, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (folder_id, field, value, ts, pid)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(folder_id, field)
		DO UPDATE SET value = excluded.value, ts = excluded.ts, pid = excluded.pid
	`, folderID, field, value, reg.Timestamp, reg.PeerID)
	if err != nil {
		return fmt.Errorf("set record field %q: %w", field, err)
	}
	return nil
}

// MergeRecord reconciles an incoming (remote) record with the stored
// one and returns the merged result. The read-modify-write happens
// inside a single transaction so a concurrent local writer cannot be
// lost between the read and the write.
func (s *Store) MergeRecord(ctx context.Context, folderID int64, incoming crdt.Record) (crdt.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("merge record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	local, err := recordFieldsTx(ctx, tx, folderID)
	if err != nil {
		return nil, fmt.Errorf("merge record: %w", err)
	}

	merged := crdt.MergeRecords(local, incoming)

	for field, reg := range merged {
		value, err := marshalValue(reg.Value)
		if err != nil {
			return nil, fmt.Errorf("merge record: field %q: %w", field, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (folder_id, field, value, ts, pid)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(folder_id, field)
			DO UPDATE SET value = excluded.value, ts = excluded.ts, pid = excluded.pid
		`, folderID, field, value, reg.Timestamp, reg.PeerID)
		if err != nil {
			return nil, fmt.Errorf("merge record: field %q: %w", field, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("merge record: commit: %w", err)
	}
	return merged, nil
}

func recordFieldsTx(ctx context.Context, tx *sql.Tx, folderID int64) (crdt.Record, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT field, value, ts, pid FROM records WHERE folder_id = ?
	`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecord(rows)
}

// RebuildSearchIndex re-runs the full-text index population
// synchronously. Exposed for the migrate CLI command and tests; normal
// startup uses the detached build in Open.
func (s *Store) RebuildSearchIndex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents_fts(documents_fts) VALUES ('rebuild')`)
	if isNoFTSTable(err) {
		return ErrSearchUnavailable
	}
	if err != nil {
		return fmt.Errorf("rebuild search index: %w", err)
	}
	return nil
}

// IsUniqueViolation reports a UNIQUE constraint failure. Matching on
// the message keeps the driver's error types out of callers.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
