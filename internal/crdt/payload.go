package crdt

import (
	"encoding/json"
	"fmt"
)

// entry is the persisted form of one register: short keys to keep the
// metadata payload small next to the record it annotates. This format
// is shared with peers and must stay stable.
type entry struct {
	Value     any     `json:"v"`
	Timestamp float64 `json:"ts"`
	PeerID    string  `json:"pid"`
}

// MarshalPayload serializes a record to its persisted field-map form:
// {"name": {"v": ..., "ts": ..., "pid": ...}, ...}.
func MarshalPayload(rec Record) ([]byte, error) {
	out := make(map[string]entry, len(rec))
	for field, reg := range rec {
		if err := validate(field, reg); err != nil {
			return nil, err
		}
		out[field] = entry{Value: reg.Value, Timestamp: reg.Timestamp, PeerID: reg.PeerID}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal record payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload parses a persisted field-map back into a Record.
//
// Two input shapes are accepted per field:
//   - a full {"v","ts","pid"} object, which becomes a real register
//   - any other JSON value, treated as legacy data and wrapped via
//     FromLegacy so timestamped peers supersede it
//
// A field that looks like a register object but is malformed (for
// example a non-numeric "ts") is rejected with ErrMalformedRegister
// rather than demoted to legacy data.
func UnmarshalPayload(data []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal record payload: %w", err)
	}

	rec := make(Record, len(raw))
	for field, msg := range raw {
		reg, err := unmarshalEntry(field, msg)
		if err != nil {
			return nil, err
		}
		rec[field] = reg
	}
	return rec, nil
}

func unmarshalEntry(field string, msg json.RawMessage) (Register, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(msg, &probe); err != nil {
		// Not an object at all: legacy scalar or array value.
		return legacyValue(field, msg)
	}

	_, hasValue := probe["v"]
	_, hasTS := probe["ts"]
	_, hasPID := probe["pid"]
	if !hasValue && !hasTS && !hasPID {
		// A plain object value from before register metadata existed.
		return legacyValue(field, msg)
	}
	if !hasValue || !hasTS || !hasPID {
		return Register{}, fmt.Errorf("field %q: partial register object: %w", field, ErrMalformedRegister)
	}

	var e entry
	if err := json.Unmarshal(msg, &e); err != nil {
		return Register{}, fmt.Errorf("field %q: %v: %w", field, err, ErrMalformedRegister)
	}
	reg := Register{Value: e.Value, Timestamp: e.Timestamp, PeerID: e.PeerID}
	if err := validate(field, reg); err != nil {
		return Register{}, err
	}
	return reg, nil
}

func legacyValue(field string, msg json.RawMessage) (Register, error) {
	var value any
	if err := json.Unmarshal(msg, &value); err != nil {
		return Register{}, fmt.Errorf("field %q: %v: %w", field, err, ErrMalformedRegister)
	}
	return FromLegacy(value), nil
}
