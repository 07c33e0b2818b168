package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/janovincze/tributary/internal/docstore"
	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/notify"
	"github.com/janovincze/tributary/internal/metrics"
	"github.com/janovincze/tributary/internal/queue"
	"github.com/janovincze/tributary/internal/retry"
	"github.com/janovincze/tributary/internal/state"
)

// Worker imports one page of existing documents per invocation and hands the
// advanced cursor to its successor through the backfill queue.
type Worker struct {
	store    docstore.Store
	tracker  Tracker
	queue    queue.Enqueuer
	sink     state.Sink
	notifier *notify.Notifier
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewWorker creates a backfill Worker. notifier may be nil.
func NewWorker(store docstore.Store, tracker Tracker, q queue.Enqueuer, sink state.Sink, n *notify.Notifier, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:    store,
		tracker:  tracker,
		queue:    q,
		sink:     sink,
		notifier: n,
		config:   cfg,
		logger:   logger.With("component", "backfill-worker"),
		now:      time.Now,
	}
}

// Handle runs one step of the backfill.
func (w *Worker) Handle(ctx context.Context, task queue.Task) error {
	if !w.config.DoBackfill || w.config.ImportCollectionPath == "" {
		return w.sink.SetProcessingState(ctx, state.StateComplete, MessageNothingToDo)
	}

	var cursor export.BackfillCursor
	if len(task.Payload) > 0 {
		if err := task.Decode(&cursor); err != nil {
			return retry.Permanent(err)
		}
	}

	pageSize := w.config.pageSize()
	docs, err := w.store.Query(ctx, w.query(cursor.Offset, pageSize))
	if err != nil {
		return fmt.Errorf("query documents at offset %d: %w", cursor.Offset, err)
	}

	rows, err := w.rows(docs)
	if err != nil {
		// The cursor stays with the dead letter so the page can be requeued.
		return retry.Permanent(fmt.Errorf("backfill page at offset %d: %w", cursor.Offset, err))
	}

	// A page counts as imported even when the write fails: failed rows are
	// the tracker's to keep.
	imported := len(rows)
	if len(rows) > 0 {
		if err := w.tracker.Record(ctx, rows); err != nil {
			metrics.BackfillPagesTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
			w.logger.Error("failed to import page",
				"offset", cursor.Offset,
				"rows", len(rows),
				"error", err,
			)
		} else {
			metrics.BackfillPagesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
			metrics.BackfillDocumentsTotal.Add(float64(imported))
		}
	}

	w.logger.Info("backfill page processed",
		"offset", cursor.Offset,
		"scanned", len(docs),
		"imported", imported,
	)

	next := cursor.Next(pageSize, imported)
	done := len(docs) < pageSize
	if !done {
		if _, err := w.queue.Enqueue(ctx, queue.QueueBackfill, next); err != nil {
			return fmt.Errorf("enqueue next backfill page: %w", err)
		}
	} else {
		msg := fmt.Sprintf(messageImportedFormat, next.DocsCount)
		if err := w.sink.SetProcessingState(ctx, state.StateComplete, msg); err != nil {
			w.logger.Warn("failed to record processing state", "error", err)
		}
		w.logger.Info("backfill complete", "imported", next.DocsCount)
	}

	w.notifier.RecordCompletion(ctx, CompletionData{
		Offset:    cursor.Offset,
		Scanned:   len(docs),
		DocsCount: next.DocsCount,
		Done:      done,
	})
	return nil
}

func (w *Worker) query(offset, limit int) docstore.Query {
	q := docstore.Query{
		Collection: w.config.ImportCollectionPath,
		Offset:     offset,
		Limit:      limit,
	}
	if w.config.UseCollectionGroupQuery {
		q.Collection = export.LastSegment(w.config.ImportCollectionPath)
		q.CollectionGroup = true
	}
	return q
}

func (w *Worker) rows(docs []export.Snapshot) ([]export.ChangeRecord, error) {
	ts := w.now().UTC()
	rows := make([]export.ChangeRecord, 0, len(docs))
	for _, doc := range docs {
		data, err := w.tracker.SerializeData(doc.Fields())
		if err != nil {
			return nil, fmt.Errorf("serialize %s: %w", doc.Path, err)
		}
		rows = append(rows, export.ChangeRecord{
			Timestamp:    ts,
			Operation:    export.OperationImport,
			DocumentName: export.DocumentName(w.config.ProjectID, doc.Path),
			DocumentID:   doc.ID,
			EventID:      "",
			PathParams:   export.ResolveWildcardIDs(w.config.ImportCollectionPath, doc.Path),
			Data:         data,
		})
	}
	return rows, nil
}

var _ queue.Handler = (*Worker)(nil)
