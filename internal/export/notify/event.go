// Package notify publishes best-effort lifecycle events for the export pipeline.
package notify

import (
	"strings"
	"time"

	"github.com/janovincze/tributary/internal/export"
)

// DefaultEventPrefix namespaces every event type published by Tributary.
const DefaultEventPrefix = "tributary.document-export"

// Lifecycle event names.
const (
	EventStart      = "onStart"
	EventError      = "onError"
	EventSuccess    = "onSuccess"
	EventCompletion = "onCompletion"
)

// EventType returns the fully qualified type for a lifecycle event name.
func EventType(prefix, name string) string {
	if prefix == "" {
		prefix = DefaultEventPrefix
	}
	return prefix + ".v1." + name
}

// EventName returns the short lifecycle name of a fully qualified type.
func EventName(eventType string) string {
	if i := strings.LastIndex(eventType, "."); i >= 0 {
		return eventType[i+1:]
	}
	return eventType
}

// Event is a single message published to the event bus.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Source  string    `json:"source,omitempty"`
	Subject string    `json:"subject,omitempty"`
	Time    time.Time `json:"time"`
	Data    any       `json:"data"`
}

// DocumentData wraps raw document fields in start events.
type DocumentData struct {
	Data map[string]any `json:"data,omitempty"`
}

// StartData is the payload of an onStart event. Snapshots are raw, before
// serialization, for observability.
type StartData struct {
	DocumentID string           `json:"documentId"`
	ChangeType export.Operation `json:"changeType"`
	Before     DocumentData     `json:"before"`
	After      DocumentData     `json:"after"`
	Context    export.Resource  `json:"context"`
}

// ErrorData is the payload of an onError event.
type ErrorData struct {
	Message string `json:"message"`
}
