package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/notify"
	"github.com/janovincze/tributary/internal/export/serializer"
	"github.com/janovincze/tributary/internal/queue"
)

type mockEnqueuer struct {
	mu    sync.Mutex
	tasks []export.SyncTask
	names []string
	err   error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, name string, payload any) (queue.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return queue.Task{}, m.err
	}
	m.names = append(m.names, name)
	m.tasks = append(m.tasks, payload.(export.SyncTask))
	return queue.Task{ID: "t1", Queue: name}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, notify.EventName(e.Type))
	}
	return out
}

type failingSerializer struct{}

func (failingSerializer) SerializeData(map[string]any) (json.RawMessage, error) {
	return nil, serializer.ErrPayloadTooLarge
}

var now = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTrigger(q queue.Enqueuer, s DataSerializer, cfg Config) (*Trigger, *recordingPublisher) {
	pub := &recordingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := notify.New(pub, notify.DefaultConfig(), logger)
	tr := NewTrigger(q, s, n, cfg, logger)
	tr.now = func() time.Time { return now }
	return tr, pub
}

func mutation(before, after bool, age time.Duration) export.Mutation {
	m := export.Mutation{
		Context: export.TriggerContext{
			EventID:   "evt-1",
			Timestamp: now.Add(-age),
			Resource:  export.Resource{Name: "projects/p/databases/(default)/documents/users/alice"},
		},
	}
	if before {
		m.Before = export.Snapshot{Path: "users/alice", ID: "alice", Exists: true, Data: map[string]any{"v": 1}}
	}
	if after {
		m.After = export.Snapshot{Path: "users/alice", ID: "alice", Exists: true, Data: map[string]any{"v": 2}}
	}
	return m
}

func TestTrigger_Payloads(t *testing.T) {
	tests := []struct {
		name        string
		before      bool
		after       bool
		excludeOld  bool
		wantOp      export.Operation
		wantData    string
		wantOldData string
	}{
		{"create", false, true, false, export.OperationCreate, `{"v":2}`, ""},
		{"update", true, true, false, export.OperationUpdate, `{"v":2}`, `{"v":1}`},
		{"update exclude old", true, true, true, export.OperationUpdate, `{"v":2}`, ""},
		{"delete", true, false, false, export.OperationDelete, "", `{"v":1}`},
		{"delete exclude old", true, false, true, export.OperationDelete, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockEnqueuer{}
			cfg := DefaultConfig()
			cfg.ExcludeOldData = tt.excludeOld
			tr, pub := newTrigger(q, serializer.New(serializer.DefaultConfig()), cfg)

			if err := tr.Handle(context.Background(), mutation(tt.before, tt.after, time.Second)); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if len(q.tasks) != 1 || q.names[0] != queue.QueueSync {
				t.Fatalf("enqueued %v to %v", q.tasks, q.names)
			}
			task := q.tasks[0]
			if task.ChangeType != tt.wantOp {
				t.Errorf("ChangeType = %q, want %q", task.ChangeType, tt.wantOp)
			}
			if task.DocumentID != "alice" {
				t.Errorf("DocumentID = %q, want alice", task.DocumentID)
			}
			if string(task.Data) != tt.wantData {
				t.Errorf("Data = %s, want %s", task.Data, tt.wantData)
			}
			if string(task.OldData) != tt.wantOldData {
				t.Errorf("OldData = %s, want %s", task.OldData, tt.wantOldData)
			}
			if task.Context.EventID != "evt-1" {
				t.Errorf("Context.EventID = %q", task.Context.EventID)
			}

			names := pub.names()
			if len(names) != 1 || names[0] != notify.EventStart {
				t.Errorf("events = %v, want [onStart]", names)
			}
		})
	}
}

func TestTrigger_StartEventCarriesRawSnapshots(t *testing.T) {
	q := &mockEnqueuer{}
	tr, pub := newTrigger(q, serializer.New(serializer.DefaultConfig()), DefaultConfig())

	if err := tr.Handle(context.Background(), mutation(true, true, 0)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	data, ok := pub.events[0].Data.(notify.StartData)
	if !ok {
		t.Fatalf("start data = %T", pub.events[0].Data)
	}
	if data.Before.Data["v"] != 1 || data.After.Data["v"] != 2 {
		t.Errorf("start data = %+v", data)
	}
	if data.ChangeType != export.OperationUpdate {
		t.Errorf("ChangeType = %q", data.ChangeType)
	}
}

func TestTrigger_FailureFreshIsReturned(t *testing.T) {
	q := &mockEnqueuer{err: errors.New("queue unavailable")}
	tr, pub := newTrigger(q, serializer.New(serializer.DefaultConfig()), DefaultConfig())

	err := tr.Handle(context.Background(), mutation(false, true, 2*time.Second))
	if err == nil {
		t.Fatal("expected error for a fresh failed capture")
	}

	names := pub.names()
	if len(names) != 2 || names[1] != notify.EventError {
		t.Errorf("events = %v, want [onStart onError]", names)
	}
	if pub.events[1].Subject != "alice" {
		t.Errorf("error subject = %q, want alice", pub.events[1].Subject)
	}
}

func TestTrigger_FailureStaleIsSwallowed(t *testing.T) {
	q := &mockEnqueuer{}
	tr, pub := newTrigger(q, failingSerializer{}, DefaultConfig())

	if err := tr.Handle(context.Background(), mutation(false, true, 11*time.Second)); err != nil {
		t.Errorf("Handle() error = %v, want nil for stale event", err)
	}
	if len(q.tasks) != 0 {
		t.Error("nothing should be enqueued")
	}
	names := pub.names()
	if len(names) != 2 || names[1] != notify.EventError {
		t.Errorf("events = %v, want [onStart onError]", names)
	}
}

func TestTrigger_NoChange(t *testing.T) {
	q := &mockEnqueuer{}
	tr, _ := newTrigger(q, serializer.New(serializer.DefaultConfig()), DefaultConfig())

	err := tr.Handle(context.Background(), mutation(false, false, 0))
	if !IsNoChange(err) {
		t.Errorf("Handle() error = %v, want no-change error", err)
	}
}

func TestTrigger_NilNotifier(t *testing.T) {
	q := &mockEnqueuer{}
	tr := NewTrigger(q, serializer.New(serializer.DefaultConfig()), nil, DefaultConfig(), nil)

	if err := tr.Handle(context.Background(), mutation(true, false, 0)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(q.tasks) != 1 {
		t.Errorf("enqueued %d tasks, want 1", len(q.tasks))
	}
}
