// Package syncworker writes captured changes into the warehouse, one record
// per task.
package syncworker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/notify"
	"github.com/janovincze/tributary/internal/metrics"
	"github.com/janovincze/tributary/internal/queue"
	"github.com/janovincze/tributary/internal/retry"
)

// Recorder writes change records to the warehouse.
type Recorder interface {
	Record(ctx context.Context, rows []export.ChangeRecord) error
}

// Config holds sync worker configuration.
type Config struct {
	// WildcardIDs includes the captured wildcard params on every row.
	WildcardIDs bool
}

// Worker consumes the sync queue.
type Worker struct {
	recorder Recorder
	notifier *notify.Notifier
	config   Config
	logger   *slog.Logger
}

// NewWorker creates a Worker. notifier may be nil.
func NewWorker(r Recorder, n *notify.Notifier, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		recorder: r,
		notifier: n,
		config:   cfg,
		logger:   logger.With("component", "sync-worker"),
	}
}

// Handle decodes a SyncTask and records it. Record errors are returned so the
// dispatcher retries the task with backoff.
func (w *Worker) Handle(ctx context.Context, task queue.Task) error {
	var st export.SyncTask
	if err := task.Decode(&st); err != nil {
		return retry.Permanent(err)
	}

	row := w.Row(st)
	if err := w.recorder.Record(ctx, []export.ChangeRecord{row}); err != nil {
		metrics.SyncRecordsTotal.WithLabelValues(string(row.Operation), metrics.OutcomeFailure).Inc()
		return fmt.Errorf("record %s: %w", st.DocumentID, err)
	}

	metrics.SyncRecordsTotal.WithLabelValues(string(row.Operation), metrics.OutcomeSuccess).Inc()
	w.notifier.RecordSuccess(ctx, st.DocumentID, row)

	w.logger.Debug("change recorded",
		"document_id", st.DocumentID,
		"operation", row.Operation,
		"event_id", row.EventID,
		"attempt", task.Attempts,
	)
	return nil
}

// Row builds the changelog row for a sync task.
func (w *Worker) Row(st export.SyncTask) export.ChangeRecord {
	row := export.ChangeRecord{
		Timestamp:    st.Context.Timestamp,
		Operation:    st.ChangeType,
		DocumentName: st.Context.Resource.Name,
		DocumentID:   st.DocumentID,
		EventID:      st.Context.EventID,
		Data:         st.Data,
		OldData:      st.OldData,
	}
	if w.config.WildcardIDs && len(st.Context.Params) > 0 {
		row.PathParams = st.Context.Params
	}
	return row
}

var _ queue.Handler = (*Worker)(nil)
