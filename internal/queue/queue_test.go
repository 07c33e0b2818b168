package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(c *clock) *MemoryQueue {
	q := NewMemoryQueue(DefaultConfig())
	q.now = c.Now
	return q
}

func TestMemoryQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(newClock())

	task, err := q.Enqueue(ctx, QueueSync, map[string]string{"documentId": "d1"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if task.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", task.MaxAttempts)
	}

	leased, err := q.Dequeue(ctx, QueueSync, time.Minute)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if leased.ID != task.ID || leased.Attempts != 1 {
		t.Errorf("leased = %+v", leased)
	}

	var payload map[string]string
	if err := leased.Decode(&payload); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if payload["documentId"] != "d1" {
		t.Errorf("payload = %v", payload)
	}

	if _, err := q.Dequeue(ctx, QueueSync, time.Minute); !errors.Is(err, ErrEmpty) {
		t.Errorf("second Dequeue() error = %v, want ErrEmpty while leased", err)
	}

	if err := q.Ack(ctx, task.ID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if err := q.Ack(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("double Ack() error = %v, want ErrTaskNotFound", err)
	}

	depth, _ := q.Depth(ctx, QueueSync)
	if depth != 0 {
		t.Errorf("Depth() = %d, want 0", depth)
	}
}

func TestMemoryQueue_ExpiredLeaseRedelivers(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := newTestQueue(c)

	task, _ := q.Enqueue(ctx, QueueSync, "x")
	if _, err := q.Dequeue(ctx, QueueSync, time.Minute); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}

	c.Advance(61 * time.Second)

	again, err := q.Dequeue(ctx, QueueSync, time.Minute)
	if err != nil {
		t.Fatalf("Dequeue() after lease expiry error = %v", err)
	}
	if again.ID != task.ID || again.Attempts != 2 {
		t.Errorf("redelivered = %+v, want same task with 2 attempts", again)
	}
}

func TestMemoryQueue_NackDelays(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := newTestQueue(c)

	task, _ := q.Enqueue(ctx, QueueSync, "x")
	if _, err := q.Dequeue(ctx, QueueSync, time.Minute); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if err := q.Nack(ctx, task.ID, errors.New("warehouse down"), 30*time.Second); err != nil {
		t.Fatalf("Nack() error = %v", err)
	}

	if _, err := q.Dequeue(ctx, QueueSync, time.Minute); !errors.Is(err, ErrEmpty) {
		t.Errorf("Dequeue() before delay error = %v, want ErrEmpty", err)
	}

	c.Advance(30 * time.Second)
	again, err := q.Dequeue(ctx, QueueSync, time.Minute)
	if err != nil {
		t.Fatalf("Dequeue() after delay error = %v", err)
	}
	if again.LastError != "warehouse down" {
		t.Errorf("LastError = %q", again.LastError)
	}
}

func TestMemoryQueue_FIFOAndIsolation(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(newClock())

	for _, p := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(ctx, QueueBackfill, p); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if _, err := q.Enqueue(ctx, QueueSync, "other"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	var order []string
	for i := 0; i < 3; i++ {
		task, err := q.Dequeue(ctx, QueueBackfill, time.Minute)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		var s string
		_ = task.Decode(&s)
		order = append(order, s)
	}
	if strings.Join(order, "") != "abc" {
		t.Errorf("order = %v, want a b c", order)
	}

	depths, _ := q.Depths(ctx, []string{QueueBackfill, QueueSync, QueueInit})
	if depths[QueueBackfill] != 3 || depths[QueueSync] != 1 || depths[QueueInit] != 0 {
		t.Errorf("Depths() = %v", depths)
	}
}

func TestMemoryQueue_PayloadLimits(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Config{MaxPayloadBytes: 16})

	if _, err := q.Enqueue(ctx, QueueSync, strings.Repeat("x", 32)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Enqueue() error = %v, want ErrPayloadTooLarge", err)
	}
	if _, err := q.Enqueue(ctx, "", "x"); !errors.Is(err, ErrUnknownQueue) {
		t.Errorf("Enqueue() error = %v, want ErrUnknownQueue", err)
	}

	raw := json.RawMessage(`{"offset":0}`)
	task, err := q.Enqueue(ctx, QueueBackfill, raw)
	if err != nil {
		t.Fatalf("Enqueue(raw) error = %v", err)
	}
	if string(task.Payload) != string(raw) {
		t.Errorf("Payload = %s, want %s", task.Payload, raw)
	}
}

func TestMemoryQueue_Purge(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	q := newTestQueue(c)

	acked, _ := q.Enqueue(ctx, QueueSync, "done")
	_, _ = q.Enqueue(ctx, QueueSync, "pending")
	leased, _ := q.Dequeue(ctx, QueueSync, time.Minute)
	if leased.ID != acked.ID {
		t.Fatalf("leased %s, want %s", leased.ID, acked.ID)
	}
	_ = q.Ack(ctx, acked.ID)

	c.Advance(2 * time.Hour)
	n, err := q.Purge(ctx, c.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Purge() = %d, want 1", n)
	}
	if len(q.Pending(QueueSync)) != 1 {
		t.Error("pending task must survive purge")
	}
}
