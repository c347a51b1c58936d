package archive

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aktenwerk/aktenwerk/internal/store"
)

func newTestArchive(t *testing.T, opts Options) (*Archive, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if opts.Root == "" {
		opts.Root = filepath.Join(t.TempDir(), "archive")
	}
	a, err := New(opts, st, slog.Default())
	require.NoError(t, err)
	return a, st
}

func baseAnswers() Answers {
	return Answers{
		KdNr:        "12345",
		DisplayName: "Hans Mueller",
		Address:     "Hauptstr. 1, Berlin",
		DocType:     "Rechnung",
		DocDate:     "01.03.2024",
	}
}

func TestCommit_NewFolderAndFirstVersion(t *testing.T) {
	a, _ := newTestArchive(t, Options{})
	ctx := context.Background()

	res, err := a.Commit(ctx, baseAnswers(), []byte("rechnung v1"), "scan.pdf")
	require.NoError(t, err)

	assert.True(t, res.CreatedFolder)
	assert.Equal(t, "12345_hans-mueller", res.Folder)
	assert.Equal(t, int64(1), res.VersionNo)
	assert.False(t, res.Deduplicated)
	assert.True(t, strings.HasSuffix(res.Path, "rechnung_2024-03-01.pdf"), "path %q", res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("rechnung v1"), got)
}

func TestCommit_IdenticalBytesDeduplicated(t *testing.T) {
	a, _ := newTestArchive(t, Options{})
	ctx := context.Background()

	data := []byte("identical bytes")
	first, err := a.Commit(ctx, baseAnswers(), data, "scan.pdf")
	require.NoError(t, err)

	second, err := a.Commit(ctx, baseAnswers(), data, "scan.pdf")
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, first.VersionNo, second.VersionNo)
	assert.False(t, second.CreatedFolder)
}

func TestCommit_ChangedBytesNewVersion(t *testing.T) {
	a, st := newTestArchive(t, Options{})
	ctx := context.Background()

	first, err := a.Commit(ctx, baseAnswers(), []byte("version one"), "scan.pdf")
	require.NoError(t, err)

	second, err := a.Commit(ctx, baseAnswers(), []byte("version two"), "scan.pdf")
	require.NoError(t, err)

	assert.Equal(t, first.VersionNo+1, second.VersionNo)
	assert.NotEqual(t, first.Path, second.Path)
	assert.Contains(t, second.Path, "_v2")

	// Both generations stay on disk and in the index.
	_, err = os.Stat(first.Path)
	assert.NoError(t, err)

	folder, err := st.FolderByKdNr(ctx, "12345")
	require.NoError(t, err)
	doc, err := st.DocumentByIdentity(ctx, folder.ID, "rechnung", "2024-03-01")
	require.NoError(t, err)
	versions, err := st.Versions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestCommit_ThirdVersionNumbering(t *testing.T) {
	a, _ := newTestArchive(t, Options{})
	ctx := context.Background()

	for i, data := range []string{"one", "two", "three"} {
		res, err := a.Commit(ctx, baseAnswers(), []byte(data), "scan.pdf")
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), res.VersionNo)
	}
}

func TestCommit_ExistingFolderReused(t *testing.T) {
	a, _ := newTestArchive(t, Options{})
	ctx := context.Background()

	first, err := a.Commit(ctx, baseAnswers(), []byte("a"), "scan.pdf")
	require.NoError(t, err)
	require.True(t, first.CreatedFolder)

	other := baseAnswers()
	other.DocDate = "02.03.2024"
	second, err := a.Commit(ctx, other, []byte("b"), "scan.pdf")
	require.NoError(t, err)
	assert.False(t, second.CreatedFolder)
	assert.Equal(t, first.Folder, second.Folder)
}

func TestCommit_SelectedCandidateUsedOnlyExplicitly(t *testing.T) {
	a, _ := newTestArchive(t, Options{})
	ctx := context.Background()

	_, err := a.Commit(ctx, baseAnswers(), []byte("seed"), "scan.pdf")
	require.NoError(t, err)

	// Caller explicitly selected the fuzzy candidate: file under it.
	selected := Answers{SelectedKdNr: "12345", DocType: "Angebot", DocDate: "2024-04-01"}
	res, err := a.Commit(ctx, selected, []byte("angebot"), "offer.pdf")
	require.NoError(t, err)
	assert.False(t, res.CreatedFolder)
	assert.Equal(t, "12345_hans-mueller", res.Folder)

	// A selected candidate that does not exist is an error, never a
	// silent new folder.
	bad := Answers{SelectedKdNr: "99999", DocType: "Angebot", DocDate: "2024-04-01"}
	_, err = a.Commit(ctx, bad, []byte("angebot"), "offer.pdf")
	assert.Error(t, err)
}

func TestCommit_NoIdentityRejected(t *testing.T) {
	a, _ := newTestArchive(t, Options{})

	_, err := a.Commit(context.Background(), Answers{DocType: "rechnung"}, []byte("x"), "scan.pdf")
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestCommit_UnsupportedExtensionRejected(t *testing.T) {
	a, _ := newTestArchive(t, Options{})

	_, err := a.Commit(context.Background(), baseAnswers(), []byte("x"), "malware.exe")
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestCommit_OversizeRejected(t *testing.T) {
	a, _ := newTestArchive(t, Options{MaxFileSize: 8})

	_, err := a.Commit(context.Background(), baseAnswers(), []byte("way too many bytes"), "scan.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

type rejectingScanner struct{}

func (rejectingScanner) Scan(ctx context.Context, filename string, data []byte) error {
	if strings.Contains(string(data), "EICAR") {
		return errors.New("signature match")
	}
	return nil
}

func TestCommit_FailedScanRejectedBeforeVersioning(t *testing.T) {
	a, st := newTestArchive(t, Options{Scanner: rejectingScanner{}})
	ctx := context.Background()

	_, err := a.Commit(ctx, baseAnswers(), []byte("EICAR test body"), "scan.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	// Rejection happens before any folder or version exists.
	_, err = st.FolderByKdNr(ctx, "12345")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCommit_RejectionLeavesNoStagedFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive")
	a, _ := newTestArchive(t, Options{Root: root, MaxFileSize: 4})

	_, err := a.Commit(context.Background(), baseAnswers(), []byte("too large"), "scan.pdf")
	require.ErrorIs(t, err, ErrUnsupportedInput)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
