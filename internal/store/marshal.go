package store

import (
	"bytes"
	"encoding/json"
)

// marshal encodes a record without HTML escaping, so stored values match
// what was written.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
