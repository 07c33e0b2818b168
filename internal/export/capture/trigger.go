// Package capture turns document mutations into sync tasks.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/notify"
	"github.com/janovincze/tributary/internal/metrics"
	"github.com/janovincze/tributary/internal/queue"
)

// DataSerializer converts document fields into a warehouse payload.
type DataSerializer interface {
	SerializeData(doc map[string]any) (json.RawMessage, error)
}

// Config holds capture configuration.
type Config struct {
	// ExcludeOldData drops the pre-change payload from every task.
	ExcludeOldData bool

	// StalenessThreshold is the event age after which failures are dropped.
	StalenessThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{StalenessThreshold: export.DefaultStalenessThreshold}
}

// Trigger handles one mutation per call: it classifies the change, serializes
// both sides and enqueues a sync task.
type Trigger struct {
	queue      queue.Enqueuer
	serializer DataSerializer
	notifier   *notify.Notifier
	config     Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewTrigger creates a Trigger. notifier may be nil.
func NewTrigger(q queue.Enqueuer, s DataSerializer, n *notify.Notifier, cfg Config, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = export.DefaultStalenessThreshold
	}

	return &Trigger{
		queue:      q,
		serializer: s,
		notifier:   n,
		config:     cfg,
		logger:     logger.With("component", "capture-trigger"),
		now:        time.Now,
	}
}

// Handle captures m. A returned error asks the caller to retry the mutation;
// failures of events older than the staleness threshold are swallowed.
func (t *Trigger) Handle(ctx context.Context, m export.Mutation) error {
	documentID := export.DocumentID(m)
	t.logger.Debug("capture started", "document_id", documentID, "event_id", m.Context.EventID)

	op, err := t.capture(ctx, m, documentID)
	if err == nil {
		metrics.CaptureEventsTotal.WithLabelValues(opLabel(op), metrics.OutcomeSuccess).Inc()
		if !m.Context.Timestamp.IsZero() {
			metrics.CaptureLagSeconds.Observe(t.now().Sub(m.Context.Timestamp).Seconds())
		}
		t.logger.Debug("capture completed",
			"document_id", documentID,
			"operation", op,
			"event_id", m.Context.EventID,
		)
		return nil
	}

	t.notifier.RecordError(ctx, err, documentID)
	t.logger.Error("capture failed",
		"document_id", documentID,
		"event_id", m.Context.EventID,
		"error", err,
	)

	if export.IsStale(m.Context.Timestamp, t.now(), t.config.StalenessThreshold) {
		metrics.CaptureEventsTotal.WithLabelValues(opLabel(op), metrics.OutcomeDropped).Inc()
		t.logger.Warn("dropping stale capture",
			"document_id", documentID,
			"event_id", m.Context.EventID,
			"event_age", t.now().Sub(m.Context.Timestamp),
		)
		return nil
	}

	metrics.CaptureEventsTotal.WithLabelValues(opLabel(op), metrics.OutcomeFailure).Inc()
	return err
}

func (t *Trigger) capture(ctx context.Context, m export.Mutation, documentID string) (export.Operation, error) {
	op, err := export.Classify(m.Before, m.After)
	if err != nil {
		return op, fmt.Errorf("classify %s: %w", documentID, err)
	}

	t.notifier.RecordStart(ctx, notify.StartData{
		DocumentID: documentID,
		ChangeType: op,
		Before:     notify.DocumentData{Data: m.Before.Fields()},
		After:      notify.DocumentData{Data: m.After.Fields()},
		Context:    m.Context.Resource,
	})

	var data, oldData map[string]any
	if op != export.OperationDelete {
		data = m.After.Fields()
	}
	if op != export.OperationCreate && !t.config.ExcludeOldData {
		oldData = m.Before.Fields()
	}

	task := export.SyncTask{
		Context:    m.Context,
		ChangeType: op,
		DocumentID: documentID,
	}
	if task.Data, err = t.serialize(data); err != nil {
		return op, fmt.Errorf("serialize data: %w", err)
	}
	if task.OldData, err = t.serialize(oldData); err != nil {
		return op, fmt.Errorf("serialize old data: %w", err)
	}

	if _, err := t.queue.Enqueue(ctx, queue.QueueSync, task); err != nil {
		return op, fmt.Errorf("enqueue sync task: %w", err)
	}
	return op, nil
}

func (t *Trigger) serialize(doc map[string]any) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}
	return t.serializer.SerializeData(doc)
}

func opLabel(op export.Operation) string {
	if op == "" {
		return "UNKNOWN"
	}
	return string(op)
}

// IsNoChange reports whether err came from a mutation with neither snapshot.
func IsNoChange(err error) bool {
	return errors.Is(err, export.ErrNoChange)
}
