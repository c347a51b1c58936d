package store

import "time"

// Folder is one customer/object namespace documents are filed under.
type Folder struct {
	ID          int64
	KdNr        string
	DisplayName string
	Address     string
	CreatedAt   time.Time
}

// Document is one logical file: a folder plus classification type and
// normalized date. Its bytes live in Versions.
type Document struct {
	ID            int64
	FolderID      int64
	DocType       string
	DocDate       string
	ExtractedText string
}

// Version is one immutable snapshot of a Document. Never edited in
// place; superseded by the next version number.
type Version struct {
	ID          int64
	DocumentID  int64
	VersionNo   int64
	ContentHash string
	StoragePath string
	Size        int64
	CreatedAt   time.Time
}
