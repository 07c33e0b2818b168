// Package queue provides a durable, lease-based task queue with at-least-once
// delivery, and a dispatcher that drives handlers from it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Queue names used by the export pipeline.
const (
	QueueSync     = "sync"
	QueueInit     = "init"
	QueueSetup    = "setup"
	QueueBackfill = "backfill"
)

// Names lists every queue the pipeline dispatches from.
var Names = []string{QueueSync, QueueInit, QueueSetup, QueueBackfill}

// DefaultMaxPayloadBytes is the per-task payload ceiling.
const DefaultMaxPayloadBytes = 1 << 20

// Task is one unit of work held by a queue.
type Task struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	AvailableAt time.Time       `json:"available_at"`
	LeaseUntil  *time.Time      `json:"lease_until,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Decode unmarshals the task payload into v.
func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s task payload: %w", t.Queue, err)
	}
	return nil
}

// Exhausted reports whether the task has used all of its attempts.
func (t Task) Exhausted() bool {
	return t.MaxAttempts > 0 && t.Attempts >= t.MaxAttempts
}

// Enqueuer submits payloads to a named queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (Task, error)
}

// Queue is a durable task queue. Dequeue leases a task; a lease that expires
// without Ack or Nack makes the task visible again.
type Queue interface {
	Enqueuer

	// Dequeue leases the next available task, or returns ErrEmpty.
	Dequeue(ctx context.Context, name string, lease time.Duration) (*Task, error)

	// Ack marks a leased task as done.
	Ack(ctx context.Context, id string) error

	// Nack releases a leased task, recording cause and delaying redelivery.
	Nack(ctx context.Context, id string, cause error, delay time.Duration) error

	// Release returns a leased task that was never handled to failure. The
	// attempt counted by Dequeue is given back and the task is visible again.
	Release(ctx context.Context, id string) error

	// Depth returns the number of unacknowledged tasks in a queue.
	Depth(ctx context.Context, name string) (int64, error)

	// Depths returns the depth of several queues at once.
	Depths(ctx context.Context, names []string) (map[string]int64, error)

	// Purge deletes tasks acknowledged before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources held by the queue.
	Close() error
}

// Config holds queue configuration.
type Config struct {
	// MaxAttempts is stamped on every enqueued task.
	MaxAttempts int

	// MaxPayloadBytes rejects larger payloads with ErrPayloadTooLarge.
	MaxPayloadBytes int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = d.MaxPayloadBytes
	}
	return c
}

func encodePayload(cfg Config, name string, payload any) (json.RawMessage, error) {
	if name == "" {
		return nil, ErrUnknownQueue
	}

	var data []byte
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode task payload: %w", err)
		}
	}

	if len(data) > cfg.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(data), cfg.MaxPayloadBytes)
	}
	return data, nil
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
