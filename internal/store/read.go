package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aktenwerk/aktenwerk/internal/crdt"
)

// FolderByKdNr looks up a folder by exact customer number.
// Returns ErrNotFound if no folder has that number.
func (s *Store) FolderByKdNr(ctx context.Context, kdnr string) (Folder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(kdnr, ''), display_name, address, created_at
		FROM folders WHERE kdnr = ?
	`, kdnr)
	return scanFolder(row)
}

// FolderByID looks up a folder by primary key.
func (s *Store) FolderByID(ctx context.Context, id int64) (Folder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(kdnr, ''), display_name, address, created_at
		FROM folders WHERE id = ?
	`, id)
	return scanFolder(row)
}

// Folders returns every folder ordered by id, the stable order the
// fuzzy matcher and the CLI rely on.
func (s *Store) Folders(ctx context.Context) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(kdnr, ''), display_name, address, created_at
		FROM folders ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.KdNr, &f.DisplayName, &f.Address, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return folders, nil
}

// DocumentByIdentity returns the document with the given logical
// identity, or ErrNotFound.
func (s *Store) DocumentByIdentity(ctx context.Context, folderID int64, docType, docDate string) (Document, error) {
	return s.documentByIdentity(ctx, folderID, docType, docDate)
}

func (s *Store) documentByIdentity(ctx context.Context, folderID int64, docType, docDate string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, folder_id, doc_type, doc_date, extracted_text
		FROM documents WHERE folder_id = ? AND doc_type = ? AND doc_date = ?
	`, folderID, docType, docDate)

	var d Document
	err := row.Scan(&d.ID, &d.FolderID, &d.DocType, &d.DocDate, &d.ExtractedText)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("document by identity: %w", err)
	}
	return d, nil
}

// LatestVersion returns the highest-numbered version of a document, or
// ErrNotFound when the document has no versions yet.
func (s *Store) LatestVersion(ctx context.Context, documentID int64) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version_no, content_hash, storage_path, size, created_at
		FROM versions WHERE document_id = ?
		ORDER BY version_no DESC LIMIT 1
	`, documentID)

	var v Version
	err := row.Scan(&v.ID, &v.DocumentID, &v.VersionNo, &v.ContentHash, &v.StoragePath, &v.Size, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("latest version: %w", err)
	}
	return v, nil
}

// Versions returns all versions of a document in ascending version
// order.
func (s *Store) Versions(ctx context.Context, documentID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version_no, content_hash, storage_path, size, created_at
		FROM versions WHERE document_id = ?
		ORDER BY version_no ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.VersionNo, &v.ContentHash, &v.StoragePath, &v.Size, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("list versions: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// RecordFields returns the stored CRDT record for a folder. A folder
// with no record rows yields an empty, non-nil record.
func (s *Store) RecordFields(ctx context.Context, folderID int64) (crdt.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field, value, ts, pid FROM records WHERE folder_id = ?
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("record fields: %w", err)
	}
	defer rows.Close()

	rec, err := scanRecord(rows)
	if err != nil {
		return nil, fmt.Errorf("record fields: %w", err)
	}
	return rec, nil
}

// SearchDocuments queries the full-text index and returns matching
// documents in relevance order. An index that is still being built in
// the background simply returns fewer hits.
func (s *Store) SearchDocuments(ctx context.Context, query string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.folder_id, d.doc_type, d.doc_date, d.extracted_text
		FROM documents_fts f
		JOIN documents d ON d.id = f.rowid
		WHERE documents_fts MATCH ?
		ORDER BY rank
	`, query)
	if isNoFTSTable(err) {
		return nil, ErrSearchUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.FolderID, &d.DocType, &d.DocDate, &d.ExtractedText); err != nil {
			return nil, fmt.Errorf("search documents: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return docs, nil
}

func scanFolder(row *sql.Row) (Folder, error) {
	var f Folder
	err := row.Scan(&f.ID, &f.KdNr, &f.DisplayName, &f.Address, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, ErrNotFound
	}
	if err != nil {
		return Folder{}, fmt.Errorf("scan folder: %w", err)
	}
	return f, nil
}

// scanRecord builds a crdt.Record from (field, value, ts, pid) rows.
func scanRecord(rows *sql.Rows) (crdt.Record, error) {
	rec := crdt.Record{}
	for rows.Next() {
		var (
			field, rawValue, pid string
			ts                   float64
		)
		if err := rows.Scan(&field, &rawValue, &ts, &pid); err != nil {
			return nil, err
		}
		value, err := unmarshalValue(rawValue)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		rec[field] = crdt.Register{Value: value, Timestamp: ts, PeerID: pid}
	}
	return rec, rows.Err()
}
