package backfill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/queue"
	"github.com/janovincze/tributary/internal/retry"
	"github.com/janovincze/tributary/internal/state"
)

// Initializer provisions warehouse resources and starts the backfill.
type Initializer struct {
	tracker Tracker
	queue   queue.Enqueuer
	sink    state.Sink
	config  Config
	logger  *slog.Logger
}

// NewInitializer creates an Initializer.
func NewInitializer(tracker Tracker, q queue.Enqueuer, sink state.Sink, cfg Config, logger *slog.Logger) *Initializer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Initializer{
		tracker: tracker,
		queue:   q,
		sink:    sink,
		config:  cfg,
		logger:  logger.With("component", "initializer"),
	}
}

// HandleInit initializes the warehouse, then either enqueues the first
// backfill page or marks setup complete.
func (i *Initializer) HandleInit(ctx context.Context, task queue.Task) error {
	if err := i.initialize(ctx, task); err != nil {
		return err
	}

	if i.config.DoBackfill {
		if _, err := i.queue.Enqueue(ctx, queue.QueueBackfill, export.BackfillCursor{}); err != nil {
			return fmt.Errorf("enqueue backfill: %w", err)
		}
		i.logger.Info("backfill scheduled", "collection", i.config.ImportCollectionPath)
		return nil
	}

	return i.sink.SetProcessingState(ctx, state.StateComplete, MessageSetupCompleted)
}

// HandleSetup initializes the warehouse and always marks setup complete.
func (i *Initializer) HandleSetup(ctx context.Context, task queue.Task) error {
	if err := i.initialize(ctx, task); err != nil {
		return err
	}
	return i.sink.SetProcessingState(ctx, state.StateComplete, MessageSetupCompleted)
}

// initialize records ERROR only on the final attempt of a task; earlier
// failures are left to the dispatcher's retries.
func (i *Initializer) initialize(ctx context.Context, task queue.Task) error {
	if err := i.tracker.Initialize(ctx); err != nil {
		final := task.Exhausted() || !retry.IsRetryable(err)
		i.logger.Error("warehouse initialization failed",
			"attempt", task.Attempts,
			"final", final,
			"error", err,
		)
		if !final {
			return fmt.Errorf("initialize warehouse: %w", err)
		}
		if stateErr := i.sink.SetProcessingState(ctx, state.StateError, fmt.Sprintf(messageInitFailed, err)); stateErr != nil {
			i.logger.Warn("failed to record processing state", "error", stateErr)
		}
		return fmt.Errorf("initialize warehouse: %w", err)
	}

	i.logger.Info("warehouse initialized")
	return nil
}
