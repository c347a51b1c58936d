// Package crdt implements last-writer-wins registers and field-map
// records, the conflict resolution layer for structured record fields
// edited concurrently on different devices.
//
// The merge rule is a deterministic total order:
//
//  1. Higher timestamp wins.
//  2. Equal timestamps: the lexicographically greater peer ID wins.
//  3. Otherwise the local register wins.
//
// Rule 2 is an arbitrary but documented tie-break; together with rule 1
// it makes Merge commutative, associative, and idempotent, which is
// what lets replicas that sync in any order, any number of times,
// converge to the same state without a coordinator.
//
// Timestamps are wall-clock float seconds. Peers with skewed clocks can
// misorder two real edits; that is an inherent, documented limitation
// of LWW registers. Changing the comparison rule would break
// convergence with peers running the current rule, so it stays.
package crdt

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedRegister reports a persisted register entry that is
// missing required metadata or carries wrong types. Malformed input is
// rejected explicitly; it is never silently coerced into a register.
var ErrMalformedRegister = errors.New("malformed register payload")

// Clock supplies the current time as float seconds since the Unix
// epoch. Injected so tests control timestamps deterministically.
type Clock interface {
	Now() float64
}

// WallClock is the production clock.
type WallClock struct{}

// Now returns the current wall time in float seconds.
func (WallClock) Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Register holds one field's current value plus the metadata needed to
// resolve conflicts: when it was written and by which peer.
type Register struct {
	Value     any
	Timestamp float64
	PeerID    string
}

// Update sets a new value written locally by peerID at clock.Now().
// It never consults remote state.
func (r *Register) Update(value any, peerID string, clock Clock) {
	r.Value = value
	r.Timestamp = clock.Now()
	r.PeerID = peerID
}

// newerThan reports whether other supersedes r under the LWW order.
func (r Register) newerThan(other Register) bool {
	if r.Timestamp != other.Timestamp {
		return r.Timestamp > other.Timestamp
	}
	return r.PeerID > other.PeerID
}

// Merge resolves two registers for the same field and returns the
// winner. Merge(a, b) == Merge(b, a); merging a register with itself
// returns it unchanged; conflicts always resolve, never error.
func Merge(local, remote Register) Register {
	if remote.newerThan(local) {
		return remote
	}
	return local
}

// FromLegacy wraps a plain value that predates register metadata.
// The zero timestamp means any real register from any peer supersedes
// it, which is the intended migration path for un-timestamped data.
func FromLegacy(value any) Register {
	return Register{Value: value, Timestamp: 0, PeerID: ""}
}

// Record maps field names to their registers for one business entity.
type Record map[string]Register

// Set performs a local write of one field.
func (rec Record) Set(field string, value any, peerID string, clock Clock) {
	reg := rec[field]
	reg.Update(value, peerID, clock)
	rec[field] = reg
}

// Get returns the current value of a field and whether it exists.
func (rec Record) Get(field string) (any, bool) {
	reg, ok := rec[field]
	if !ok {
		return nil, false
	}
	return reg.Value, true
}

// MergeRecords merges two records field by field. The result's field
// set is the union of both inputs; each field is resolved independently
// with Merge, so edits to disjoint fields both survive. Neither input
// is mutated.
func MergeRecords(local, remote Record) Record {
	merged := make(Record, len(local)+len(remote))
	for field, reg := range local {
		merged[field] = reg
	}
	for field, reg := range remote {
		if existing, ok := merged[field]; ok {
			merged[field] = Merge(existing, reg)
		} else {
			merged[field] = reg
		}
	}
	return merged
}

// validate rejects registers that cannot have come from a well-formed
// peer: a real (non-legacy) timestamp requires a peer ID.
func validate(field string, reg Register) error {
	if reg.Timestamp < 0 {
		return fmt.Errorf("field %q: negative timestamp %v: %w", field, reg.Timestamp, ErrMalformedRegister)
	}
	if reg.Timestamp > 0 && reg.PeerID == "" {
		return fmt.Errorf("field %q: timestamp without peer id: %w", field, ErrMalformedRegister)
	}
	return nil
}
