package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/janovincze/tributary/internal/metrics"
)

// MemoryQueue is an in-process Queue. It keeps lease semantics so it behaves
// like PostgresQueue, but its contents do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	config Config
	tasks  map[string]*memoryTask
	seq    uint64
	now    func() time.Time
}

type memoryTask struct {
	Task
	seq     uint64
	ackedAt *time.Time
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	return &MemoryQueue{
		config: cfg.withDefaults(),
		tasks:  make(map[string]*memoryTask),
		now:    time.Now,
	}
}

// Enqueue adds a task.
func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload any) (Task, error) {
	data, err := encodePayload(q.config, name, payload)
	if err != nil {
		return Task{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.seq++
	t := &memoryTask{seq: q.seq, Task: Task{
		ID:          uuid.New().String(),
		Queue:       name,
		Payload:     append([]byte(nil), data...),
		MaxAttempts: q.config.MaxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
	}}
	q.tasks[t.ID] = t
	metrics.QueueEnqueuedTotal.WithLabelValues(name).Inc()
	return t.Task, nil
}

// Dequeue leases the oldest available task.
func (q *MemoryQueue) Dequeue(_ context.Context, name string, lease time.Duration) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var candidates []*memoryTask
	for _, t := range q.tasks {
		if t.Queue != name || t.ackedAt != nil || t.AvailableAt.After(now) {
			continue
		}
		if t.LeaseUntil != nil && t.LeaseUntil.After(now) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, ErrEmpty
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].AvailableAt.Equal(candidates[j].AvailableAt) {
			return candidates[i].AvailableAt.Before(candidates[j].AvailableAt)
		}
		return candidates[i].seq < candidates[j].seq
	})

	t := candidates[0]
	until := now.Add(lease)
	t.LeaseUntil = &until
	t.Attempts++

	out := t.Task
	return &out, nil
}

// Ack marks a task done.
func (q *MemoryQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok || t.ackedAt != nil {
		return ErrTaskNotFound
	}
	now := q.now()
	t.ackedAt = &now
	t.LeaseUntil = nil
	return nil
}

// Nack releases a task for redelivery after delay.
func (q *MemoryQueue) Nack(_ context.Context, id string, cause error, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok || t.ackedAt != nil {
		return ErrTaskNotFound
	}
	t.LeaseUntil = nil
	t.AvailableAt = q.now().Add(delay)
	t.LastError = errorMessage(cause)
	return nil
}

// Release gives back the attempt of an interrupted lease.
func (q *MemoryQueue) Release(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok || t.ackedAt != nil {
		return ErrTaskNotFound
	}
	t.LeaseUntil = nil
	if t.Attempts > 0 {
		t.Attempts--
	}
	return nil
}

// Depth returns the number of unacknowledged tasks.
func (q *MemoryQueue) Depth(_ context.Context, name string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked(name), nil
}

// Depths returns the depth of each named queue.
func (q *MemoryQueue) Depths(_ context.Context, names []string) (map[string]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]int64, len(names))
	for _, name := range names {
		out[name] = q.depthLocked(name)
	}
	return out, nil
}

func (q *MemoryQueue) depthLocked(name string) int64 {
	var n int64
	for _, t := range q.tasks {
		if t.Queue == name && t.ackedAt == nil {
			n++
		}
	}
	return n
}

// Purge removes tasks acknowledged before cutoff.
func (q *MemoryQueue) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for id, t := range q.tasks {
		if t.ackedAt != nil && t.ackedAt.Before(cutoff) {
			delete(q.tasks, id)
			n++
		}
	}
	return n, nil
}

// Pending returns copies of the unacknowledged tasks of a queue, oldest first.
func (q *MemoryQueue) Pending(name string) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*memoryTask
	for _, t := range q.tasks {
		if t.Queue == name && t.ackedAt == nil {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	out := make([]Task, 0, len(pending))
	for _, t := range pending {
		out = append(out, t.Task)
	}
	return out
}

// Close is a no-op.
func (q *MemoryQueue) Close() error { return nil }

var _ Queue = (*MemoryQueue)(nil)
