package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Publisher delivers events to an external bus.
type Publisher interface {
	// Publish sends one event.
	Publish(ctx context.Context, event Event) error

	// Close releases any resources held by the publisher.
	Close() error
}

// NopPublisher discards every event. It is used when no bus is configured.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() error { return nil }

// FilterPublisher forwards only the allowed event types.
type FilterPublisher struct {
	next    Publisher
	allowed map[string]bool
}

// NewFilterPublisher wraps next with an allow list. Entries may be short names
// ("onStart") or fully qualified types. An empty list allows everything.
func NewFilterPublisher(next Publisher, prefix string, allowed []string) *FilterPublisher {
	f := &FilterPublisher{next: next}
	if len(allowed) == 0 {
		return f
	}
	f.allowed = make(map[string]bool, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !strings.Contains(a, ".") {
			a = EventType(prefix, a)
		}
		f.allowed[a] = true
	}
	return f
}

// Allowed reports whether eventType passes the filter.
func (f *FilterPublisher) Allowed(eventType string) bool {
	return f.allowed == nil || f.allowed[eventType]
}

// Publish forwards the event when its type is allowed.
func (f *FilterPublisher) Publish(ctx context.Context, event Event) error {
	if !f.Allowed(event.Type) {
		return nil
	}
	return f.next.Publish(ctx, event)
}

// Close closes the wrapped publisher.
func (f *FilterPublisher) Close() error {
	return f.next.Close()
}

// MultiPublisher fans an event out to several publishers.
type MultiPublisher []Publisher

// Publish sends the event to every publisher and joins their errors.
func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Codec selects the wire encoding for broker publishers.
type Codec string

const (
	// CodecJSON encodes events as JSON.
	CodecJSON Codec = "json"
	// CodecMsgpack encodes events as MessagePack.
	CodecMsgpack Codec = "msgpack"
)

// ContentType returns the MIME type for the codec.
func (c Codec) ContentType() string {
	if c == CodecMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// Marshal encodes an event.
func (c Codec) Marshal(event Event) ([]byte, error) {
	switch c {
	case CodecMsgpack:
		// Data is flattened through JSON so raw payloads keep their structure.
		generic, err := toGeneric(event.Data)
		if err != nil {
			return nil, err
		}
		event.Data = generic

		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(event); err != nil {
			return nil, fmt.Errorf("encode msgpack event: %w", err)
		}
		return buf.Bytes(), nil
	case CodecJSON, "":
		data, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("encode json event: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", string(c))
	}
}

// Unmarshal decodes an event produced by Marshal.
func (c Codec) Unmarshal(data []byte, event *Event) error {
	switch c {
	case CodecMsgpack:
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.SetCustomStructTag("json")
		return dec.Decode(event)
	default:
		return json.Unmarshal(data, event)
	}
}

func toGeneric(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal event data: %w", err)
	}
	return out, nil
}

// Ensure publishers implement Publisher.
var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*FilterPublisher)(nil)
	_ Publisher = MultiPublisher(nil)
)
