package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/eresion/internal/ir"
)

// marshalJSON encodes v without HTML escaping and without the encoder's
// trailing newline, so re-encoding a decoded value reproduces its bytes.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// marshalMotif converts a motif to JSON TEXT for storage.
func marshalMotif(m ir.Motif) (string, error) {
	data, err := marshalJSON(m)
	if err != nil {
		return "", fmt.Errorf("marshal motif %s: %w", shortID(m.ID), err)
	}
	return string(data), nil
}

// unmarshalMotif parses stored motif JSON TEXT.
func unmarshalMotif(data []byte) (ir.Motif, error) {
	var m ir.Motif
	if err := json.Unmarshal(data, &m); err != nil {
		return ir.Motif{}, fmt.Errorf("unmarshal motif: %w", err)
	}
	return m, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
