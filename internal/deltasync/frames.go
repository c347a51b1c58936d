package deltasync

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Wire frames travel between peers over an opaque byte channel owned
// by the caller; this package only defines their encoding. CBOR with
// Core Deterministic Encoding (RFC 8949 §4.2) keeps frames compact for
// binary chunk payloads and byte-stable: the same logical frame always
// encodes to identical bytes.

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("deltasync: CBOR encoder initialization failed: " + err.Error())
	}
}

// ChunkListFrame advertises one file version's chunk digests. The
// hash array is implicitly indexed by position.
type ChunkListFrame struct {
	Path      string   `cbor:"path"`
	VersionNo int64    `cbor:"version"`
	ChunkSize int      `cbor:"chunk_size"`
	Hashes    []string `cbor:"hashes"`
}

// PatchFrame carries one changed chunk's bytes. ChunkSize repeats the
// sender's chunking so the receiver can place the chunk without
// trusting its own configuration to match.
type PatchFrame struct {
	Path       string `cbor:"path"`
	VersionNo  int64  `cbor:"version"`
	ChunkSize  int    `cbor:"chunk_size"`
	ChunkIndex int    `cbor:"index"`
	Data       []byte `cbor:"data"`
}

// EncodeChunkList writes the frame's CBOR encoding to w.
func EncodeChunkList(w io.Writer, frame ChunkListFrame) error {
	if err := encMode.NewEncoder(w).Encode(frame); err != nil {
		return fmt.Errorf("encode chunk list frame: %w", err)
	}
	return nil
}

// DecodeChunkList reads one frame from r.
func DecodeChunkList(r io.Reader) (ChunkListFrame, error) {
	var frame ChunkListFrame
	if err := cbor.NewDecoder(r).Decode(&frame); err != nil {
		return ChunkListFrame{}, fmt.Errorf("decode chunk list frame: %w", err)
	}
	return frame, nil
}

// EncodePatch writes the frame's CBOR encoding to w.
func EncodePatch(w io.Writer, frame PatchFrame) error {
	if err := encMode.NewEncoder(w).Encode(frame); err != nil {
		return fmt.Errorf("encode patch frame: %w", err)
	}
	return nil
}

// DecodePatch reads one frame from r. For a stream holding more than
// one frame use a PatchDecoder: the CBOR decoder buffers past the
// frame it returns, so a fresh decoder per frame loses the remainder.
func DecodePatch(r io.Reader) (PatchFrame, error) {
	return NewPatchDecoder(r).Next()
}

// PatchDecoder reads consecutive patch frames from a single stream.
// One underlying CBOR decoder owns the reader for the stream's whole
// lifetime, so bytes it buffers beyond the current frame feed the next
// Next call instead of being discarded.
type PatchDecoder struct {
	dec *cbor.Decoder
}

func NewPatchDecoder(r io.Reader) *PatchDecoder {
	return &PatchDecoder{dec: cbor.NewDecoder(r)}
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (d *PatchDecoder) Next() (PatchFrame, error) {
	var frame PatchFrame
	if err := d.dec.Decode(&frame); err != nil {
		if errors.Is(err, io.EOF) {
			return PatchFrame{}, io.EOF
		}
		return PatchFrame{}, fmt.Errorf("decode patch frame: %w", err)
	}
	return frame, nil
}
