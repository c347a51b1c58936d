// Package contenthash computes the content-addressed identities used
// everywhere the system needs to ask "are these bytes the same".
//
// Two hash domains exist:
//   - file: identifies a whole logical document for dedup and versioning
//   - chunk: identifies one fixed-size slice of a file for delta sync
//
// Domain separation uses BLAKE3 keyed hashing with fixed ASCII keys, so
// the same input bytes never collide across domains. The keys are
// protocol constants; changing them invalidates every stored hash.
package contenthash

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest. All content hashes (file and
// chunk) are this size.
type Digest [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. The byte values
// are the ASCII encoding of the domain name, zero-padded to 32 bytes,
// so the keys remain inspectable in hex dumps without weakening the
// hash (keyed mode treats the key as an opaque value).
type domainKey [32]byte

var (
	fileDomainKey = domainKey{
		'a', 'k', 't', 'e', 'n', 'w', 'e', 'r', 'k', '.', 'f', 'i', 'l', 'e',
	}

	chunkDomainKey = domainKey{
		'a', 'k', 't', 'e', 'n', 'w', 'e', 'r', 'k', '.', 'c', 'h', 'u', 'n', 'k',
	}
)

func keyedSum(key domainKey, data []byte) Digest {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length, which is
		// impossible for a domainKey.
		panic("contenthash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// SumFile computes the file-domain digest of data. This is the digest
// stored on Versions and compared for dedup.
func SumFile(data []byte) Digest {
	return keyedSum(fileDomainKey, data)
}

// SumChunk computes the chunk-domain digest of one chunk's bytes.
// Chunk digests are always computed on raw bytes so two peers agree on
// chunk identity regardless of how the bytes traveled.
func SumChunk(data []byte) Digest {
	return keyedSum(chunkDomainKey, data)
}

// SumFileReader streams r through the file-domain hasher and returns
// the digest together with the number of bytes read. Use this for
// large files that should not be held in memory just to be hashed.
func SumFileReader(r io.Reader) (Digest, int64, error) {
	h, err := blake3.NewKeyed(fileDomainKey[:])
	if err != nil {
		panic("contenthash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, n, fmt.Errorf("hash file: %w", err)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// String returns the canonical hex form used in metadata, database
// columns, logs, and wire frames.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses the canonical hex form back into a Digest.
func ParseDigest(s string) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("parse digest: %w", err)
	}
	if len(raw) != len(Digest{}) {
		return Digest{}, fmt.Errorf("parse digest: expected %d bytes, got %d", len(Digest{}), len(raw))
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}
