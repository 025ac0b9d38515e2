// Package envelope defines the wire types shared by Motor and Cortex
// (Intent, FillEvent, RejectionEvent, SignalEvent, OperatorCommand,
// StateChangeEvent), their canonical JSON encoding, and HMAC signing
// primitives. Neither Motor nor Cortex imports the other; both import only
// this package, breaking the cyclic wiring the teacher's services had
// between Brain-like and Execution-like components (see DESIGN.md).
package envelope

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Canonical marshals v to JSON with object keys sorted lexicographically at
// every nesting level and no insignificant whitespace. Every wire type's
// CanonicalJSON method delegates to this so hash and signature computation
// is stable across processes and Go versions regardless of struct field
// declaration order.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}
