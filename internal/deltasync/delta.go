// Package deltasync reconciles large files between devices by
// exchanging only changed pieces.
//
// Files are split into fixed-size chunks, each identified by its
// chunk-domain digest. Comparing two chunk lists positionally yields
// the set of changed chunk indexes; only those chunks travel. The
// comparison is intentionally positional, not content-defined: a byte
// change inside a chunk is detected, but an insertion that shifts the
// rest of the file marks every following chunk as changed. That trade
// was made for determinism and simplicity; chunk lists are therefore
// only comparable between versions of the same logical file.
//
// Divergent versions of the same document resolve by version number,
// higher wins, tie favors local. This is a coarser, whole-file
// last-writer-wins than the field-level registers in package crdt —
// deliberate, since merging bytes inside arbitrary file formats is not
// something this layer can do safely.
package deltasync

import (
	"errors"
	"fmt"
	"io"

	"github.com/aktenwerk/aktenwerk/internal/contenthash"
)

// DefaultChunkSize is the fixed chunk size used when a Syncer is
// created with no explicit size. Both sides of a sync must use the
// same size or their chunk lists are incomparable.
const DefaultChunkSize = 1 << 20 // 1 MiB

// ErrChunkTooLarge reports a patch payload longer than the chunk size.
var ErrChunkTooLarge = errors.New("patch data exceeds chunk size")

// Syncer holds the chunking configuration. Zero-value methods are not
// usable; construct with NewSyncer.
type Syncer struct {
	chunkSize int
}

// NewSyncer creates a Syncer with the given chunk size, or
// DefaultChunkSize when size is 0.
func NewSyncer(size int) (*Syncer, error) {
	if size == 0 {
		size = DefaultChunkSize
	}
	if size < 0 {
		return nil, fmt.Errorf("new syncer: chunk size %d must be positive", size)
	}
	return &Syncer{chunkSize: size}, nil
}

// ChunkSize returns the configured chunk size in bytes.
func (s *Syncer) ChunkSize() int {
	return s.chunkSize
}

// ChunkHashes reads r to EOF and returns one chunk-domain digest per
// fixed-size chunk, in file order. The last chunk may be shorter than
// the chunk size. An empty file yields an empty list.
func (s *Syncer) ChunkHashes(r io.Reader) ([]string, error) {
	buf := make([]byte, s.chunkSize)
	var hashes []string
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			hashes = append(hashes, contenthash.SumChunk(buf[:n]).String())
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return hashes, nil
		}
		if err != nil {
			return nil, fmt.Errorf("chunk hashes: %w", err)
		}
	}
}

// CalculateDelta compares two positional chunk lists and returns every
// index where they disagree: the digests differ at that position, or
// the index exists on only one side. The result is sorted ascending.
// Identical lists yield an empty (non-nil is not guaranteed) result.
func CalculateDelta(local, remote []string) []int {
	longest := len(local)
	if len(remote) > longest {
		longest = len(remote)
	}

	var changed []int
	for i := 0; i < longest; i++ {
		if i >= len(local) || i >= len(remote) || local[i] != remote[i] {
			changed = append(changed, i)
		}
	}
	return changed
}

// ResolveConflict picks the surviving bytes when two peers hold
// divergent versions of the same document: the higher version number
// wins, and a tie favors the local copy.
func ResolveConflict(localVersion, remoteVersion int64, localBytes, remoteBytes []byte) []byte {
	if remoteVersion > localVersion {
		return remoteBytes
	}
	return localBytes
}

// ApplyPatch overwrites exactly one chunk's region of f at
// chunkIndex * chunkSize. Only the target region is written; the rest
// of the file is untouched, which is the point of delta sync. The
// final chunk of a file may legitimately be shorter than the chunk
// size; anything longer than the chunk size is rejected.
func (s *Syncer) ApplyPatch(f io.WriterAt, chunkIndex int, data []byte) error {
	if chunkIndex < 0 {
		return fmt.Errorf("apply patch: negative chunk index %d", chunkIndex)
	}
	if len(data) > s.chunkSize {
		return fmt.Errorf("apply patch: chunk %d: %d bytes: %w", chunkIndex, len(data), ErrChunkTooLarge)
	}
	offset := int64(chunkIndex) * int64(s.chunkSize)
	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("apply patch: chunk %d at offset %d: %w", chunkIndex, offset, err)
	}
	return nil
}
