package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// marshalText encodes v as JSON for a TEXT column. HTML escaping is off so
// narrative text round-trips byte for byte.
func marshalText(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal column: %w", err)
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func unmarshalText(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("unmarshal column: %w", err)
	}
	return nil
}
