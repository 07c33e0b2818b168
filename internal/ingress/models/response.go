package models

import (
	"time"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/queue"
	"github.com/janovincze/tributary/internal/state"
)

// VersionResponse contains version information.
type VersionResponse struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
}

// HealthResponse represents the overall health status.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	LastCheck  time.Time `json:"last_check"`
	Error      string    `json:"error,omitempty"`
}

// ProbeResponse is the liveness and readiness probe body.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// MutationResponse acknowledges a captured mutation.
type MutationResponse struct {
	EventID    string `json:"event_id"`
	DocumentID string `json:"document_id"`
}

// SetupRequest is the optional body of POST /v1/setup.
type SetupRequest struct {
	// Backfill overrides the configured backfill choice when set.
	Backfill *bool `json:"backfill,omitempty"`
}

// TaskResponse describes an enqueued task.
type TaskResponse struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

// StateResponse reports processing state and the live source position.
type StateResponse struct {
	Status     *state.Status     `json:"status"`
	Checkpoint *state.Checkpoint `json:"checkpoint,omitempty"`
}

// QueueResponse reports the backlog of one queue.
type QueueResponse struct {
	Name  string `json:"name"`
	Depth int64  `json:"depth"`
}

// DeadLetterResponse is a dead-lettered task.
type DeadLetterResponse = queue.DeadLetter

// DocumentRequest is the body of PUT /v1/documents/*path.
type DocumentRequest struct {
	Data map[string]any `json:"data" binding:"required"`
}

// DocumentResponse is a document snapshot.
type DocumentResponse = export.Snapshot

// ListResponse is a generic list response.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
