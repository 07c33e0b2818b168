package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/janovincze/tributary/internal/retry"
)

// ErrorType classifies why a task was dead-lettered.
type ErrorType string

const (
	// ErrorTypeTransient indicates the task exhausted its attempts on retryable errors.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypePermanent indicates a handler error marked non-retryable.
	ErrorTypePermanent ErrorType = "permanent"
	// ErrorTypeValidation indicates the payload could not be decoded or was rejected.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeUnknown indicates an unclassified failure.
	ErrorTypeUnknown ErrorType = "unknown"
)

// ClassifyError maps a handler error to an ErrorType.
func ClassifyError(err error) ErrorType {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case errors.Is(err, ErrPayloadTooLarge), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return ErrorTypeValidation
	case !retry.IsRetryable(err):
		return ErrorTypePermanent
	default:
		return ErrorTypeTransient
	}
}

// DeadLetter is a task that could not be delivered.
type DeadLetter struct {
	ID           int64           `json:"id"`
	TaskID       string          `json:"task_id"`
	Queue        string          `json:"queue"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	ErrorMessage string          `json:"error_message"`
	ErrorType    ErrorType       `json:"error_type"`
	RetryCount   int             `json:"retry_count"`
	CreatedAt    time.Time       `json:"created_at"`
	LastRetryAt  *time.Time      `json:"last_retry_at,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
}

// NewDeadLetter builds a dead letter from a failed task.
func NewDeadLetter(task Task, err error, retention time.Duration) DeadLetter {
	now := time.Now()
	dl := DeadLetter{
		TaskID:       task.ID,
		Queue:        task.Queue,
		Payload:      task.Payload,
		Attempts:     task.Attempts,
		ErrorMessage: errorMessage(err),
		ErrorType:    ClassifyError(err),
		CreatedAt:    now,
	}
	if retention > 0 {
		expiresAt := now.Add(retention)
		dl.ExpiresAt = &expiresAt
	}
	return dl
}

// DeadLetterStore persists undeliverable tasks.
type DeadLetterStore interface {
	// Write stores a dead letter and returns its id.
	Write(ctx context.Context, dl DeadLetter) (int64, error)

	// List returns dead letters, oldest first. An empty queue name lists all.
	List(ctx context.Context, queue string, limit int) ([]DeadLetter, error)

	// Get returns a single dead letter.
	Get(ctx context.Context, id int64) (DeadLetter, error)

	// MarkRetried increments the retry count.
	MarkRetried(ctx context.Context, id int64) error

	// Delete removes a dead letter.
	Delete(ctx context.Context, id int64) error

	// Cleanup removes expired dead letters.
	Cleanup(ctx context.Context) (int64, error)

	// Count returns the number of dead letters.
	Count(ctx context.Context) (int64, error)
}

// Requeue re-submits a dead letter to its original queue with a fresh attempt
// budget, then removes it from the store.
func Requeue(ctx context.Context, store DeadLetterStore, q Enqueuer, id int64) (Task, error) {
	dl, err := store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}

	task, err := q.Enqueue(ctx, dl.Queue, dl.Payload)
	if err != nil {
		return Task{}, fmt.Errorf("requeue dead letter %d: %w", id, err)
	}

	if err := store.MarkRetried(ctx, id); err != nil {
		return task, err
	}
	if err := store.Delete(ctx, id); err != nil {
		return task, err
	}
	return task, nil
}

// MemoryDeadLetters is an in-process DeadLetterStore.
type MemoryDeadLetters struct {
	mu      sync.Mutex
	nextID  int64
	letters map[int64]DeadLetter
}

// NewMemoryDeadLetters creates an empty store.
func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{letters: make(map[int64]DeadLetter)}
}

// Write stores a dead letter.
func (m *MemoryDeadLetters) Write(_ context.Context, dl DeadLetter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	dl.ID = m.nextID
	m.letters[dl.ID] = dl
	return dl.ID, nil
}

// List returns dead letters, oldest first.
func (m *MemoryDeadLetters) List(_ context.Context, queue string, limit int) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DeadLetter, 0, len(m.letters))
	for _, dl := range m.letters {
		if queue == "" || dl.Queue == queue {
			out = append(out, dl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns a dead letter by id.
func (m *MemoryDeadLetters) Get(_ context.Context, id int64) (DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dl, ok := m.letters[id]
	if !ok {
		return DeadLetter{}, ErrDeadLetterNotFound
	}
	return dl, nil
}

// MarkRetried increments the retry count.
func (m *MemoryDeadLetters) MarkRetried(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dl, ok := m.letters[id]
	if !ok {
		return ErrDeadLetterNotFound
	}
	now := time.Now()
	dl.RetryCount++
	dl.LastRetryAt = &now
	m.letters[id] = dl
	return nil
}

// Delete removes a dead letter.
func (m *MemoryDeadLetters) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.letters[id]; !ok {
		return ErrDeadLetterNotFound
	}
	delete(m.letters, id)
	return nil
}

// Cleanup removes expired dead letters.
func (m *MemoryDeadLetters) Cleanup(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var n int64
	for id, dl := range m.letters {
		if dl.ExpiresAt != nil && dl.ExpiresAt.Before(now) {
			delete(m.letters, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored dead letters.
func (m *MemoryDeadLetters) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.letters)), nil
}

var _ DeadLetterStore = (*MemoryDeadLetters)(nil)
