package syncworker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/notify"
	"github.com/janovincze/tributary/internal/queue"
	"github.com/janovincze/tributary/internal/retry"
)

type mockRecorder struct {
	mu    sync.Mutex
	calls [][]export.ChangeRecord
	err   error
}

func (m *mockRecorder) Record(_ context.Context, rows []export.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, rows)
	return m.err
}

type mockPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *mockPublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *mockPublisher) Close() error { return nil }

func syncTask(t *testing.T, st export.SyncTask) queue.Task {
	t.Helper()
	payload, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return queue.Task{ID: "task-1", Queue: queue.QueueSync, Payload: payload, Attempts: 1}
}

func sampleTask() export.SyncTask {
	return export.SyncTask{
		Context: export.TriggerContext{
			EventID:   "evt-9",
			Timestamp: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
			Resource:  export.Resource{Name: "projects/p/databases/(default)/documents/users/u1/posts/p1"},
			Params:    map[string]string{"userId": "u1", "documentId": "p1"},
		},
		ChangeType: export.OperationUpdate,
		DocumentID: "p1",
		Data:       json.RawMessage(`{"title":"new"}`),
		OldData:    json.RawMessage(`{"title":"old"}`),
	}
}

func TestWorker_RecordsOneRow(t *testing.T) {
	tests := []struct {
		name           string
		wildcardIDs    bool
		wantPathParams bool
	}{
		{"without wildcard ids", false, false},
		{"with wildcard ids", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			pub := &mockPublisher{}
			w := NewWorker(rec, notify.New(pub, notify.DefaultConfig(), nil), Config{WildcardIDs: tt.wildcardIDs}, nil)

			if err := w.Handle(context.Background(), syncTask(t, sampleTask())); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if len(rec.calls) != 1 || len(rec.calls[0]) != 1 {
				t.Fatalf("Record calls = %v, want one call with one row", rec.calls)
			}
			row := rec.calls[0][0]
			if row.DocumentName != "projects/p/databases/(default)/documents/users/u1/posts/p1" {
				t.Errorf("DocumentName = %q", row.DocumentName)
			}
			if row.EventID != "evt-9" || row.DocumentID != "p1" || row.Operation != export.OperationUpdate {
				t.Errorf("row = %+v", row)
			}
			if string(row.Data) != `{"title":"new"}` || string(row.OldData) != `{"title":"old"}` {
				t.Errorf("payloads = %s / %s", row.Data, row.OldData)
			}
			if (row.PathParams != nil) != tt.wantPathParams {
				t.Errorf("PathParams = %v, want present=%v", row.PathParams, tt.wantPathParams)
			}

			if len(pub.events) != 1 {
				t.Fatalf("events = %d, want 1", len(pub.events))
			}
			if notify.EventName(pub.events[0].Type) != notify.EventSuccess || pub.events[0].Subject != "p1" {
				t.Errorf("event = %+v", pub.events[0])
			}
			got, ok := pub.events[0].Data.(export.ChangeRecord)
			if !ok {
				t.Fatalf("event data = %T, want the recorded row", pub.events[0].Data)
			}
			if got.DocumentName != row.DocumentName || got.Operation != row.Operation || string(got.Data) != string(row.Data) {
				t.Errorf("event row = %+v, want %+v", got, row)
			}
		})
	}
}

func TestWorker_RecordErrorPropagates(t *testing.T) {
	rec := &mockRecorder{err: errors.New("insert failed")}
	pub := &mockPublisher{}
	w := NewWorker(rec, notify.New(pub, notify.DefaultConfig(), nil), Config{}, nil)

	err := w.Handle(context.Background(), syncTask(t, sampleTask()))
	if err == nil {
		t.Fatal("expected error")
	}
	if !retry.IsRetryable(err) {
		t.Error("record failures must stay retryable")
	}
	if len(pub.events) != 0 {
		t.Error("no success event on failure")
	}
}

func TestWorker_BadPayloadIsPermanent(t *testing.T) {
	w := NewWorker(&mockRecorder{}, nil, Config{}, nil)

	err := w.Handle(context.Background(), queue.Task{Queue: queue.QueueSync, Payload: []byte("{")})
	if err == nil || retry.IsRetryable(err) {
		t.Errorf("Handle() error = %v, want permanent error", err)
	}
}
