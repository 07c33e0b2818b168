// Package state records the pipeline's processing state and the live capture
// checkpoint.
package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ProcessingState is the operator-visible lifecycle marker of a setup or
// backfill run.
type ProcessingState string

const (
	// StateProcessing marks a run in progress.
	StateProcessing ProcessingState = "PROCESSING"
	// StateComplete marks a finished run.
	StateComplete ProcessingState = "PROCESSING_COMPLETE"
	// StateError marks a failed run.
	StateError ProcessingState = "ERROR"
)

// ErrInvalidState is returned for an unknown ProcessingState.
var ErrInvalidState = errors.New("invalid processing state")

// Valid reports whether s is a known state.
func (s ProcessingState) Valid() bool {
	switch s {
	case StateProcessing, StateComplete, StateError:
		return true
	default:
		return false
	}
}

// Status is the last recorded processing state.
type Status struct {
	InstanceID string          `json:"instance_id"`
	State      ProcessingState `json:"state"`
	Message    string          `json:"message"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Checkpoint is the last WAL position the live source has fully captured.
type Checkpoint struct {
	SourceID    string            `json:"source_id"`
	LSN         string            `json:"lsn"`
	CommittedAt time.Time         `json:"committed_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Sink receives processing state transitions.
type Sink interface {
	SetProcessingState(ctx context.Context, state ProcessingState, message string) error
}

// Store persists processing state and checkpoints.
type Store interface {
	Sink

	// Current returns the last recorded status, or nil when none exists.
	Current(ctx context.Context) (*Status, error)

	// SaveCheckpoint upserts a checkpoint.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// LoadCheckpoint returns the checkpoint for a source, or nil when none exists.
	LoadCheckpoint(ctx context.Context, sourceID string) (*Checkpoint, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.Mutex
	instanceID  string
	status      *Status
	history     []Status
	checkpoints map[string]Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(instanceID string) *MemoryStore {
	return &MemoryStore{
		instanceID:  instanceID,
		checkpoints: make(map[string]Checkpoint),
	}
}

// SetProcessingState records a transition.
func (m *MemoryStore) SetProcessingState(_ context.Context, state ProcessingState, message string) error {
	if !state.Valid() {
		return ErrInvalidState
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		InstanceID: m.instanceID,
		State:      state,
		Message:    message,
		UpdatedAt:  time.Now().UTC(),
	}
	m.status = &s
	m.history = append(m.history, s)
	return nil
}

// Current returns the last recorded status.
func (m *MemoryStore) Current(_ context.Context) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == nil {
		return nil, nil
	}
	s := *m.status
	return &s, nil
}

// History returns every recorded transition in order.
func (m *MemoryStore) History() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, len(m.history))
	copy(out, m.history)
	return out
}

// SaveCheckpoint upserts a checkpoint.
func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.CommittedAt.IsZero() {
		cp.CommittedAt = time.Now()
	}
	m.checkpoints[cp.SourceID] = cp
	return nil
}

// LoadCheckpoint returns the checkpoint for a source.
func (m *MemoryStore) LoadCheckpoint(_ context.Context, sourceID string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[sourceID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

// LogSink logs every transition before handing it to the next sink.
type LogSink struct {
	next   Sink
	logger *slog.Logger
}

// NewLogSink wraps next. A nil next only logs.
func NewLogSink(next Sink, logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{next: next, logger: logger.With("component", "processing-state")}
}

// SetProcessingState logs the transition and forwards it.
func (s *LogSink) SetProcessingState(ctx context.Context, state ProcessingState, message string) error {
	level := slog.LevelInfo
	if state == StateError {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "processing state changed", "state", state, "message", message)

	if s.next == nil {
		return nil
	}
	return s.next.SetProcessingState(ctx, state, message)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Sink  = (*LogSink)(nil)
)
