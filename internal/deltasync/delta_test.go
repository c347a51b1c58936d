package deltasync

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// small chunk size so tests exercise multi-chunk files cheaply
const testChunkSize = 64

func newTestSyncer(t *testing.T) *Syncer {
	t.Helper()
	s, err := NewSyncer(testChunkSize)
	require.NoError(t, err)
	return s
}

func TestChunkHashes_SplitsAndHashes(t *testing.T) {
	s := newTestSyncer(t)

	// 2.5 chunks: last chunk is shorter.
	data := bytes.Repeat([]byte("x"), testChunkSize*2+32)
	hashes, err := s.ChunkHashes(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	// First two chunks are byte-identical, so their digests match;
	// the short tail differs.
	assert.Equal(t, hashes[0], hashes[1])
	assert.NotEqual(t, hashes[0], hashes[2])
}

func TestChunkHashes_EmptyFile(t *testing.T) {
	s := newTestSyncer(t)

	hashes, err := s.ChunkHashes(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestChunkHashes_ExactMultiple(t *testing.T) {
	s := newTestSyncer(t)

	data := bytes.Repeat([]byte("y"), testChunkSize*4)
	hashes, err := s.ChunkHashes(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, hashes, 4)
}

func TestCalculateDelta_IdenticalListsEmpty(t *testing.T) {
	h := []string{"aa", "bb", "cc"}
	assert.Empty(t, CalculateDelta(h, h))
	assert.Empty(t, CalculateDelta(nil, nil))
}

func TestCalculateDelta_ChangedAndOutOfRange(t *testing.T) {
	cases := []struct {
		name          string
		local, remote []string
		want          []int
	}{
		{"single change", []string{"aa", "bb", "cc"}, []string{"aa", "XX", "cc"}, []int{1}},
		{"remote longer", []string{"aa"}, []string{"aa", "bb", "cc"}, []int{1, 2}},
		{"local longer", []string{"aa", "bb", "cc"}, []string{"aa"}, []int{1, 2}},
		{"disjoint", []string{"aa"}, []string{"bb"}, []int{0}},
		{"empty remote", []string{"aa", "bb"}, nil, []int{0, 1}},
		{"empty local", nil, []string{"aa"}, []int{0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CalculateDelta(tc.local, tc.remote))
		})
	}
}

func TestResolveConflict_HigherVersionWins(t *testing.T) {
	local := []byte("local bytes")
	remote := []byte("remote bytes")

	assert.Equal(t, local, ResolveConflict(3, 2, local, remote))
	assert.Equal(t, remote, ResolveConflict(2, 3, local, remote))
}

func TestResolveConflict_TieFavorsLocal(t *testing.T) {
	local := []byte("local bytes")
	remote := []byte("remote bytes")

	assert.Equal(t, local, ResolveConflict(2, 2, local, remote))
}

func TestApplyPatch_OverwritesOnlyTargetChunk(t *testing.T) {
	s := newTestSyncer(t)
	path := filepath.Join(t.TempDir(), "doc.bin")

	original := bytes.Repeat([]byte("a"), testChunkSize*3)
	require.NoError(t, os.WriteFile(path, original, 0o644))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	replacement := bytes.Repeat([]byte("b"), testChunkSize)
	require.NoError(t, s.ApplyPatch(f, 1, replacement))
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, original[:testChunkSize], got[:testChunkSize])
	assert.Equal(t, replacement, got[testChunkSize:2*testChunkSize])
	assert.Equal(t, original[2*testChunkSize:], got[2*testChunkSize:])
}

func TestApplyPatch_ShortFinalChunk(t *testing.T) {
	s := newTestSyncer(t)
	path := filepath.Join(t.TempDir(), "doc.bin")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("a"), testChunkSize+10), 0o644))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, s.ApplyPatch(f, 1, []byte("0123456789")))
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), got[testChunkSize:])
}

func TestApplyPatch_Rejections(t *testing.T) {
	s := newTestSyncer(t)
	path := filepath.Join(t.TempDir(), "doc.bin")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	err = s.ApplyPatch(f, 0, bytes.Repeat([]byte("z"), testChunkSize+1))
	assert.ErrorIs(t, err, ErrChunkTooLarge)

	assert.Error(t, s.ApplyPatch(f, -1, []byte("z")))
}

// Round trip: hash both sides, diff, patch changed chunks, verify the
// files now hash identically.
func TestDeltaSync_EndToEnd(t *testing.T) {
	s := newTestSyncer(t)
	dir := t.TempDir()

	remoteData := bytes.Repeat([]byte("r"), testChunkSize*4)
	localData := append([]byte{}, remoteData...)
	copy(localData[testChunkSize*2:], bytes.Repeat([]byte("L"), testChunkSize)) // diverge chunk 2

	localPath := filepath.Join(dir, "local.bin")
	require.NoError(t, os.WriteFile(localPath, localData, 0o644))

	localHashes, err := s.ChunkHashes(bytes.NewReader(localData))
	require.NoError(t, err)
	remoteHashes, err := s.ChunkHashes(bytes.NewReader(remoteData))
	require.NoError(t, err)

	changed := CalculateDelta(localHashes, remoteHashes)
	require.Equal(t, []int{2}, changed)

	f, err := os.OpenFile(localPath, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	for _, idx := range changed {
		start := idx * testChunkSize
		end := start + testChunkSize
		if end > len(remoteData) {
			end = len(remoteData)
		}
		require.NoError(t, s.ApplyPatch(f, idx, remoteData[start:end]))
	}
	require.NoError(t, f.Close())

	patched, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, remoteData, patched)
}
