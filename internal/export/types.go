// Package export defines the change records that flow from the document store
// into the warehouse changelog.
package export

import (
	"encoding/json"
	"time"
)

// Operation represents the kind of change captured for a document.
type Operation string

const (
	// OperationCreate represents a document that did not exist before the write.
	OperationCreate Operation = "CREATE"
	// OperationUpdate represents a write to an existing document.
	OperationUpdate Operation = "UPDATE"
	// OperationDelete represents a document removal.
	OperationDelete Operation = "DELETE"
	// OperationImport represents a document copied in by a backfill run.
	OperationImport Operation = "IMPORT"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationImport:
		return true
	default:
		return false
	}
}

// Snapshot is the state of a single document at one point in time.
type Snapshot struct {
	// Path is the fully qualified document path (e.g., "users/alice/posts/p1").
	Path string `json:"path"`

	// ID is the terminal path segment.
	ID string `json:"id"`

	// Exists is false for the before side of a create and the after side of a delete.
	Exists bool `json:"exists"`

	// Data holds the document fields.
	Data map[string]any `json:"data,omitempty"`
}

// Fields returns the document fields, or nil when the document does not exist.
func (s Snapshot) Fields() map[string]any {
	if !s.Exists {
		return nil
	}
	return s.Data
}

// Resource identifies the document that triggered an event.
type Resource struct {
	// Service is the emitting service name.
	Service string `json:"service,omitempty"`

	// Name is the full resource name of the document.
	Name string `json:"name"`
}

// TriggerContext describes the originating mutation event.
type TriggerContext struct {
	// EventID is the idempotency token assigned by the trigger source.
	EventID string `json:"eventId"`

	// Timestamp is when the mutation happened.
	Timestamp time.Time `json:"timestamp"`

	// EventType is the trigger event type, if known.
	EventType string `json:"eventType,omitempty"`

	// Resource is the document resource that changed.
	Resource Resource `json:"resource"`

	// Params holds the values captured by wildcard path segments.
	Params map[string]string `json:"params,omitempty"`
}

// Mutation is a single document write as seen by the capture trigger.
type Mutation struct {
	Before  Snapshot       `json:"before"`
	After   Snapshot       `json:"after"`
	Context TriggerContext `json:"context"`
}

// ChangeRecord is one row of the warehouse changelog.
type ChangeRecord struct {
	// Timestamp is when the change was observed.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the change kind.
	Operation Operation `json:"operation"`

	// DocumentName is the fully qualified resource name of the document.
	DocumentName string `json:"documentName"`

	// DocumentID is the terminal path identifier.
	DocumentID string `json:"documentId"`

	// EventID is the trigger idempotency token. Empty for imported rows.
	EventID string `json:"eventId"`

	// PathParams maps wildcard segment names to the captured values.
	PathParams map[string]string `json:"pathParams,omitempty"`

	// Data is the serialized post-change document. Absent for deletes.
	Data json.RawMessage `json:"data,omitempty"`

	// OldData is the serialized pre-change document. Absent for creates and imports.
	OldData json.RawMessage `json:"oldData,omitempty"`
}

// SyncTask is the payload handed from the capture trigger to the sync worker.
// Data and OldData are serialized before enqueue to keep payloads small.
type SyncTask struct {
	Context    TriggerContext  `json:"context"`
	ChangeType Operation       `json:"changeType"`
	DocumentID string          `json:"documentId"`
	Data       json.RawMessage `json:"data,omitempty"`
	OldData    json.RawMessage `json:"oldData,omitempty"`
}

// BackfillCursor threads pagination state between backfill invocations.
// Values are never mutated; each invocation hands a new cursor to its successor.
type BackfillCursor struct {
	// Offset is the number of documents already scanned.
	Offset int `json:"offset"`

	// DocsCount is the cumulative number of documents imported.
	DocsCount int `json:"docsCount"`
}

// Next returns the cursor for the invocation after a full page.
func (c BackfillCursor) Next(pageSize, imported int) BackfillCursor {
	return BackfillCursor{
		Offset:    c.Offset + pageSize,
		DocsCount: c.DocsCount + imported,
	}
}
