// Package archive is the content-addressed document store: it commits
// incoming files into a deduplicated, versioned on-disk layout under
// per-customer folders, with the index kept in package store.
//
// Identity rules:
//   - byte-identical re-submissions to the same logical target never
//     create a second version; the existing path is returned
//   - changed bytes always create exactly one new version with the
//     next version number
//
// Placement rules:
//   - bytes are written to a temporary file and renamed into place, so
//     a partially written file is never visible under its final name
//   - the final name derives deterministically from classification
//     metadata: <type>_<date> with a _vN suffix from the second
//     version onward
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aktenwerk/aktenwerk/internal/contenthash"
	"github.com/aktenwerk/aktenwerk/internal/store"
)

// ErrUnsupportedInput reports a file rejected before hashing: bad
// extension, oversize, or failed content scan. Wrapped errors carry
// the detail.
var ErrUnsupportedInput = errors.New("unsupported input")

// ErrNoIdentity reports a commit whose answers name no folder at all:
// no customer number, no selected candidate, no display name to create
// a folder from.
var ErrNoIdentity = errors.New("no folder identity in answers")

// DefaultMaxFileSize caps accepted files at 100 MiB.
const DefaultMaxFileSize = 100 << 20

// defaultExtensions are the file types accepted when the Options leave
// Extensions empty.
var defaultExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".tif", ".tiff", ".txt", ".csv", ".docx", ".xlsx"}

// Scanner checks file content before it enters the archive. A non-nil
// error rejects the file. The malware/content scanner of the
// surrounding application plugs in here.
type Scanner interface {
	Scan(ctx context.Context, filename string, data []byte) error
}

// Answers carry the caller-confirmed classification and identity for
// one commit. Caller answers always win over machine suggestions; the
// ingestion layer performs that merge before calling Commit.
type Answers struct {
	// KdNr files under the folder with this exact customer number,
	// creating the folder if none exists.
	KdNr string

	// SelectedKdNr names a fuzzy-match candidate the caller
	// explicitly selected. It is only honored when KdNr is empty and
	// must reference an existing folder: the archive never auto-merges
	// into a fuzzy match on its own.
	SelectedKdNr string

	// DisplayName and Address describe a folder to create when no
	// existing folder is identified.
	DisplayName string
	Address     string

	// DocType and DocDate are the classification metadata the final
	// file name derives from.
	DocType string
	DocDate string

	// ExtractedText feeds the document's full-text search entry.
	ExtractedText string
}

// Result reports where a committed file ended up.
type Result struct {
	// Folder is the folder's directory name under the archive root.
	Folder string

	// Path is the file's absolute final path.
	Path string

	// CreatedFolder reports whether this commit created a new folder.
	CreatedFolder bool

	// VersionNo is the version the bytes landed in (or already
	// occupied, when deduplicated).
	VersionNo int64

	// Deduplicated reports an idempotent re-submission: the returned
	// path existed before this commit and no new version was written.
	Deduplicated bool
}

// Options configure an Archive.
type Options struct {
	// Root is the directory the archive lays folders out under.
	Root string

	// MaxFileSize caps accepted files; 0 means DefaultMaxFileSize.
	MaxFileSize int64

	// Extensions whitelists file extensions (with leading dot, lower
	// case); empty means the default set.
	Extensions []string

	// Scanner optionally screens content before hashing.
	Scanner Scanner
}

// Archive commits files. Safe for concurrent use; commits serialize on
// an internal mutex so version numbering stays single-writer.
type Archive struct {
	root        string
	maxFileSize int64
	extensions  map[string]bool
	scanner     Scanner
	store       *store.Store
	logger      *slog.Logger

	// mu serializes Commit: the "read current max version, write
	// next" step requires one writer per document, and one writer per
	// archive is the simplest invariant that provides it.
	mu sync.Mutex
}

// New creates an Archive over the given store. The root directory is
// created if missing.
func New(opts Options, st *store.Store, logger *slog.Logger) (*Archive, error) {
	if opts.Root == "" {
		return nil, errors.New("new archive: root directory required")
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("new archive: %w", err)
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	extSet := make(map[string]bool, len(exts))
	for _, e := range exts {
		extSet[e] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		root:        opts.Root,
		maxFileSize: opts.MaxFileSize,
		extensions:  extSet,
		scanner:     opts.Scanner,
		store:       st,
		logger:      logger.With("component", "archive"),
	}, nil
}

// Commit validates, resolves the target folder, and files the bytes as
// a version of their logical document.
//
// Rejections (unsupported type, oversize, failed scan) happen before
// any hashing or versioning and leave nothing behind. A re-submission
// of bytes already at the document's latest version returns the
// existing path without writing. A storage failure leaves neither a
// visible final file nor an index row.
func (a *Archive) Commit(ctx context.Context, ans Answers, data []byte, filename string) (Result, error) {
	if err := a.validate(ctx, filename, data); err != nil {
		return Result{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	folder, created, err := a.resolveFolder(ctx, ans)
	if err != nil {
		return Result{}, err
	}

	docType := normalizeDocType(ans.DocType)
	docDate := normalizeDate(ans.DocDate)
	hash := contenthash.SumFile(data).String()

	// The dedup check only reads; the document row is created (or its
	// text refreshed) together with the version row below, so a failed
	// write leaves no versionless document behind.
	folderDir := folderDirName(folder)
	var latest store.Version
	doc, err := a.store.DocumentByIdentity(ctx, folder.ID, docType, docDate)
	switch {
	case err == nil:
		latest, err = a.store.LatestVersion(ctx, doc.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Result{}, fmt.Errorf("commit: %w", err)
		}
		if latest.ContentHash == hash {
			// Idempotent re-submission: same bytes already filed.
			return Result{
				Folder:       folderDir,
				Path:         latest.StoragePath,
				VersionNo:    latest.VersionNo,
				Deduplicated: true,
			}, nil
		}
	case errors.Is(err, store.ErrNotFound):
		// First version of a new document.
	default:
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	versionNo := latest.VersionNo + 1
	name := VersionFileName(docType, docDate, versionNo, filepath.Ext(filename))
	finalPath := filepath.Join(a.root, folderDir, name)

	if err := a.writeAtomic(finalPath, data); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	_, err = a.store.CommitVersion(ctx, folder.ID, docType, docDate, ans.ExtractedText, store.Version{
		VersionNo:   versionNo,
		ContentHash: hash,
		StoragePath: finalPath,
		Size:        int64(len(data)),
	})
	if err != nil {
		// Keep index and disk consistent: the file only becomes part
		// of the archive together with its version row.
		os.Remove(finalPath)
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	a.logger.Info("committed version",
		"folder", folderDir, "file", name, "version", versionNo, "size", len(data))

	return Result{
		Folder:        folderDir,
		Path:          finalPath,
		CreatedFolder: created,
		VersionNo:     versionNo,
	}, nil
}

// validate rejects unsupported input before any hashing happens.
func (a *Archive) validate(ctx context.Context, filename string, data []byte) error {
	ext := normalizeExt(filepath.Ext(filename))
	if !a.extensions[ext] {
		return fmt.Errorf("%w: file type %q not allowed", ErrUnsupportedInput, ext)
	}
	if int64(len(data)) > a.maxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrUnsupportedInput, len(data), a.maxFileSize)
	}
	if a.scanner != nil {
		if err := a.scanner.Scan(ctx, filename, data); err != nil {
			return fmt.Errorf("%w: content scan: %v", ErrUnsupportedInput, err)
		}
	}
	return nil
}

// resolveFolder finds or creates the target folder per the identity
// rules: exact customer number first, then an explicitly selected
// fuzzy candidate, then a new folder from the supplied display name.
func (a *Archive) resolveFolder(ctx context.Context, ans Answers) (store.Folder, bool, error) {
	if ans.KdNr != "" {
		folder, err := a.store.FolderByKdNr(ctx, ans.KdNr)
		if err == nil {
			return folder, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Folder{}, false, fmt.Errorf("resolve folder: %w", err)
		}
		name := ans.DisplayName
		if name == "" {
			name = "Kunde " + ans.KdNr
		}
		folder, err = a.store.CreateFolder(ctx, ans.KdNr, name, ans.Address)
		if err != nil {
			return store.Folder{}, false, fmt.Errorf("resolve folder: %w", err)
		}
		return folder, true, nil
	}

	if ans.SelectedKdNr != "" {
		folder, err := a.store.FolderByKdNr(ctx, ans.SelectedKdNr)
		if err != nil {
			// A selected candidate must exist; a vanished folder is a
			// caller error, not a reason to silently create one.
			return store.Folder{}, false, fmt.Errorf("resolve folder: selected candidate %q: %w", ans.SelectedKdNr, err)
		}
		return folder, false, nil
	}

	if ans.DisplayName == "" {
		return store.Folder{}, false, ErrNoIdentity
	}
	folder, err := a.store.CreateFolder(ctx, "", ans.DisplayName, ans.Address)
	if err != nil {
		return store.Folder{}, false, fmt.Errorf("resolve folder: %w", err)
	}
	return folder, true, nil
}

// writeAtomic writes data to path via a temp file in the same
// directory plus rename, creating the directory if needed.
func (a *Archive) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".staging-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
