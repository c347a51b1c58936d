package store

import (
	"encoding/json"
	"fmt"
)

// Record field values are stored as JSON text so any value shape a
// register carries survives the round trip through SQLite.

func marshalValue(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal record value: %w", err)
	}
	return string(data), nil
}

func unmarshalValue(raw string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("unmarshal record value: %w", err)
	}
	return value, nil
}
