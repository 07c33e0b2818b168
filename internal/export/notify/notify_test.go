package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"github.com/janovincze/tributary/internal/export"
)

type mockPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *mockPublisher) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventType(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"", EventStart, "tributary.document-export.v1.onStart"},
		{"acme.export", EventCompletion, "acme.export.v1.onCompletion"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := EventType(tt.prefix, tt.name)
			if got != tt.want {
				t.Errorf("EventType() = %q, want %q", got, tt.want)
			}
			if EventName(got) != tt.name {
				t.Errorf("EventName() = %q, want %q", EventName(got), tt.name)
			}
		})
	}
}

func TestNotifier_NilIsSafe(t *testing.T) {
	var n *Notifier
	ctx := context.Background()
	n.RecordStart(ctx, StartData{})
	n.RecordError(ctx, errors.New("boom"), "doc")
	n.RecordSuccess(ctx, "doc", nil)
	n.RecordCompletion(ctx, nil)
	if err := n.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNotifier_Records(t *testing.T) {
	pub := &mockPublisher{}
	n := New(pub, DefaultConfig(), quietLogger())
	ctx := context.Background()

	n.RecordStart(ctx, StartData{
		DocumentID: "alice",
		ChangeType: export.OperationCreate,
		After:      DocumentData{Data: map[string]any{"n": 1}},
	})
	n.RecordError(ctx, errors.New("write failed"), "alice")
	n.RecordError(ctx, nil, "ignored")
	n.RecordSuccess(ctx, "alice", map[string]any{"ok": true})
	n.RecordCompletion(ctx, nil)

	events := pub.Events()
	if len(events) != 4 {
		t.Fatalf("published %d events, want 4", len(events))
	}

	wantTypes := []string{
		"tributary.document-export.v1.onStart",
		"tributary.document-export.v1.onError",
		"tributary.document-export.v1.onSuccess",
		"tributary.document-export.v1.onCompletion",
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("events[%d].Type = %q, want %q", i, events[i].Type, want)
		}
		if events[i].ID == "" {
			t.Errorf("events[%d].ID is empty", i)
		}
	}

	if events[1].Subject != "alice" {
		t.Errorf("error subject = %q, want alice", events[1].Subject)
	}
	data, ok := events[1].Data.(ErrorData)
	if !ok || data.Message != "write failed" {
		t.Errorf("error data = %#v", events[1].Data)
	}
	if events[2].Subject != "alice" {
		t.Errorf("success subject = %q, want alice", events[2].Subject)
	}
}

func TestNotifier_PublishFailureIsSwallowed(t *testing.T) {
	pub := &mockPublisher{err: errors.New("bus down")}
	n := New(pub, DefaultConfig(), quietLogger())

	// Must not panic or block.
	n.RecordSuccess(context.Background(), "doc", nil)

	if len(pub.Events()) != 0 {
		t.Error("expected no recorded events")
	}
}

func TestNotifier_AllowedEventTypes(t *testing.T) {
	pub := &mockPublisher{}
	cfg := DefaultConfig()
	cfg.AllowedEventTypes = []string{"onError", "tributary.document-export.v1.onCompletion"}
	n := New(pub, cfg, quietLogger())
	ctx := context.Background()

	n.RecordStart(ctx, StartData{})
	n.RecordError(ctx, errors.New("x"), "")
	n.RecordSuccess(ctx, "", nil)
	n.RecordCompletion(ctx, nil)

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	if EventName(events[0].Type) != EventError || EventName(events[1].Type) != EventCompletion {
		t.Errorf("unexpected event types: %q, %q", events[0].Type, events[1].Type)
	}
}

func TestMultiPublisher(t *testing.T) {
	a := &mockPublisher{}
	b := &mockPublisher{err: errors.New("b failed")}
	m := MultiPublisher{a, b}

	err := m.Publish(context.Background(), Event{Type: "t"})
	if err == nil || !strings.Contains(err.Error(), "b failed") {
		t.Errorf("Publish() error = %v, want b failed", err)
	}
	if len(a.Events()) != 1 {
		t.Error("first publisher did not receive the event")
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Close() did not close every publisher")
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	event := Event{
		ID:      "e1",
		Type:    EventType("", EventSuccess),
		Subject: "doc",
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:    map[string]any{"count": 3},
	}

	for _, codec := range []Codec{CodecJSON, CodecMsgpack} {
		t.Run(string(codec), func(t *testing.T) {
			data, err := codec.Marshal(event)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}

			var got Event
			if err := codec.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got.ID != event.ID || got.Type != event.Type || got.Subject != event.Subject {
				t.Errorf("got %+v, want %+v", got, event)
			}
			if !got.Time.Equal(event.Time) {
				t.Errorf("Time = %v, want %v", got.Time, event.Time)
			}
		})
	}

	if _, err := Codec("xml").Marshal(event); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestWebhookPublisher(t *testing.T) {
	var (
		mu       sync.Mutex
		received Event
		headers  http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	pub, err := NewWebhookPublisher(WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"X-Token": "secret"},
	})
	if err != nil {
		t.Fatalf("NewWebhookPublisher() error = %v", err)
	}

	event := Event{ID: "abc", Type: EventType("", EventStart)}
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received.ID != "abc" {
		t.Errorf("received ID = %q, want abc", received.ID)
	}
	if headers.Get("X-Token") != "secret" {
		t.Error("custom header not sent")
	}
	if headers.Get("Ce-Type") != event.Type {
		t.Errorf("Ce-Type = %q, want %q", headers.Get("Ce-Type"), event.Type)
	}
}

func TestWebhookPublisher_NonSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	pub, err := NewWebhookPublisher(WebhookConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("NewWebhookPublisher() error = %v", err)
	}
	if err := pub.Publish(context.Background(), Event{}); err == nil {
		t.Error("expected error for 500 response")
	}

	if _, err := NewWebhookPublisher(WebhookConfig{}); err == nil {
		t.Error("expected error for missing url")
	}
}

type fakeKafkaWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeKafkaWriter{}
	pub := &KafkaPublisher{writer: w, codec: CodecMsgpack}

	event := Event{ID: "k1", Type: EventType("", EventSuccess), Subject: "doc-1"}
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "doc-1" {
		t.Errorf("Key = %q, want doc-1", msg.Key)
	}

	var got Event
	if err := CodecMsgpack.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ID != "k1" {
		t.Errorf("decoded ID = %q, want k1", got.ID)
	}

	if _, err := NewKafkaPublisher(KafkaConfig{}); err == nil {
		t.Error("expected error for missing brokers")
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(quietLogger())
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("Clients() = %d, want 1", hub.Clients())
	}

	event := Event{ID: "ws1", Type: EventType("", EventCompletion)}
	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ID != "ws1" {
		t.Errorf("ID = %q, want ws1", got.ID)
	}
}

func TestStreamName(t *testing.T) {
	if got := streamName("tributary.events"); got != "TRIBUTARY_EVENTS" {
		t.Errorf("streamName() = %q", got)
	}
}
