package store

import (
	"encoding/json"
	"fmt"
)

// DecodeValue maps a JSON-shaped store value onto a typed struct by
// round-tripping through JSON. Unknown fields are ignored, so newer
// readers tolerate older writers.
func DecodeValue(v any, dst any) error {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode value: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("store: decode value: %w", err)
	}
	return nil
}
