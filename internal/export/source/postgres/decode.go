package postgres

import (
	"encoding/json"
	"fmt"
)

// decodeDocument converts a jsonb column value into document fields.
func decodeDocument(v any) (map[string]any, error) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return val, nil
	case string:
		raw = []byte(val)
	case []byte:
		raw = val
	default:
		return nil, fmt.Errorf("%w: unexpected data column type %T", ErrMalformedRow, v)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode data column: %v", ErrMalformedRow, err)
	}
	return doc, nil
}
