// Package serializer converts document fields into a warehouse-safe JSON payload.
package serializer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultMaxPayloadBytes bounds a serialized document below the 1 MiB task payload ceiling.
const DefaultMaxPayloadBytes = 1 << 20

// DefaultMaxDepth is the deepest nesting accepted in a document.
const DefaultMaxDepth = 64

var (
	// ErrPayloadTooLarge is returned when a serialized document exceeds the size limit.
	ErrPayloadTooLarge = errors.New("serializer: payload too large")

	// ErrTooDeep is returned when a document nests deeper than the configured limit.
	ErrTooDeep = errors.New("serializer: document nested too deeply")

	// ErrUnsupportedType is returned for values that have no JSON form.
	ErrUnsupportedType = errors.New("serializer: unsupported value type")
)

// GeoPoint is a geographic coordinate stored in a document.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DocumentRef is a reference to another document. It serializes to its path.
type DocumentRef struct {
	Path string
}

// Config holds serializer limits.
type Config struct {
	// MaxPayloadBytes is the largest accepted payload (0 disables the check).
	MaxPayloadBytes int

	// MaxDepth is the deepest accepted nesting.
	MaxDepth int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		MaxDepth:        DefaultMaxDepth,
	}
}

// Serializer is a pure, synchronous document encoder.
type Serializer struct {
	config Config
}

// New creates a Serializer.
func New(cfg Config) *Serializer {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	return &Serializer{config: cfg}
}

var defaultSerializer = New(DefaultConfig())

// Serialize encodes doc with the default limits.
func Serialize(doc map[string]any) (json.RawMessage, error) {
	return defaultSerializer.Serialize(doc)
}

// Serialize encodes doc. A nil document yields a nil payload, which callers
// treat as absent.
func (s *Serializer) Serialize(doc map[string]any) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}

	normalized, err := s.normalize(doc, 0)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	if s.config.MaxPayloadBytes > 0 && len(data) > s.config.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(data), s.config.MaxPayloadBytes)
	}

	return data, nil
}

// SerializeData is Serialize under the name the warehouse tracker exposes.
func (s *Serializer) SerializeData(doc map[string]any) (json.RawMessage, error) {
	return s.Serialize(doc)
}

func (s *Serializer) normalize(v any, depth int) (any, error) {
	if depth > s.config.MaxDepth {
		return nil, ErrTooDeep
	}

	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := s.normalize(item, depth+1)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := s.normalize(item, depth+1)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return val.UTC().Format(time.RFC3339Nano), nil
	case GeoPoint:
		return val, nil
	case *GeoPoint:
		if val == nil {
			return nil, nil
		}
		return *val, nil
	case DocumentRef:
		return val.Path, nil
	case *DocumentRef:
		if val == nil {
			return nil, nil
		}
		return val.Path, nil
	case float64:
		return normalizeFloat(val), nil
	case float32:
		return normalizeFloat(float64(val)), nil
	case func(), chan any:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	default:
		return v, nil
	}
}

// normalizeFloat keeps NaN and infinities representable in JSON.
func normalizeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}
