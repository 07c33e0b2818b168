// Package pipeline feeds mutations from a live source into the capture trigger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/janovincze/tributary/internal/export"
	"github.com/janovincze/tributary/internal/export/capture"
	"github.com/janovincze/tributary/internal/export/source"
	"github.com/janovincze/tributary/internal/metrics"
	"github.com/janovincze/tributary/internal/retry"
	"github.com/janovincze/tributary/internal/state"
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// Capturer handles one mutation.
type Capturer interface {
	Handle(ctx context.Context, m export.Mutation) error
}

// Checkpointer persists the last fully captured source position.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, cp state.Checkpoint) error
	LoadCheckpoint(ctx context.Context, sourceID string) (*state.Checkpoint, error)
}

// Config holds pipeline configuration.
type Config struct {
	// CheckpointInterval is how often to save checkpoints.
	CheckpointInterval time.Duration

	// CheckpointEnabled enables checkpoint saving.
	CheckpointEnabled bool

	// Retry governs host retries of a failed capture. A capture that keeps
	// failing eventually ages past the staleness threshold and is dropped by
	// the trigger itself.
	Retry retry.Policy

	// Backpressure holds capture while the sync queue is too deep.
	Backpressure BackpressureConfig
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckpointInterval: 10 * time.Second,
		CheckpointEnabled:  true,
		Retry: retry.Policy{
			MaxAttempts: 5,
			MinInterval: time.Second,
			MaxInterval: 10 * time.Second,
			Multiplier:  2.0,
		},
		Backpressure: DefaultBackpressureConfig(),
	}
}

// Stats holds pipeline statistics.
type Stats struct {
	MutationsProcessed int64
	MutationsFailed    int64
	LastEventTime      time.Time
	LastCheckpointLSN  string
	LastCheckpointAt   time.Time
	SourceErrors       int64
}

// Pipeline runs the live capture loop.
type Pipeline struct {
	source       source.Source
	capture      Capturer
	checkpoint   Checkpointer
	backpressure *Backpressure
	retryer      *retry.Retryer
	logger       *slog.Logger
	config       Config

	mu      sync.RWMutex
	running bool
	lastLSN string
	stats   Stats
}

// New creates a pipeline. checkpoint and depth may be nil.
func New(src source.Source, c Capturer, cp Checkpointer, depth DepthFunc, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipeline", "source", src.Name())

	retryer := retry.NewRetryer(cfg.Retry, logger)
	retryer.OnRetry(func(attempt int, err error) {
		metrics.CaptureRetriesTotal.Inc()
	})

	return &Pipeline{
		source:       src,
		capture:      c,
		checkpoint:   cp,
		backpressure: NewBackpressure(cfg.Backpressure, depth, logger),
		retryer:      retryer,
		config:       cfg,
		logger:       logger,
	}
}

// Run starts the source and blocks until ctx is cancelled or the source closes.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.logger.Info("starting capture pipeline")

	if p.checkpointing() {
		if err := p.restoreCheckpoint(ctx); err != nil {
			p.logger.Warn("failed to restore checkpoint", "error", err)
		}
	}

	mutations, errs := p.source.Start(ctx)

	var checkpointCh <-chan time.Time
	if p.checkpointing() && p.config.CheckpointInterval > 0 {
		ticker := time.NewTicker(p.config.CheckpointInterval)
		defer ticker.Stop()
		checkpointCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			p.finalCheckpoint()
			return p.stopSource()

		case err := <-errs:
			if err == nil {
				continue
			}
			// The source reconnects on its own; keep consuming.
			p.mu.Lock()
			p.stats.SourceErrors++
			p.mu.Unlock()
			p.logger.Error("source error", "error", err)

		case m, ok := <-mutations:
			if !ok {
				p.logger.Info("mutation channel closed")
				p.finalCheckpoint()
				return nil
			}
			if err := p.process(ctx, m); err != nil && ctx.Err() == nil {
				p.logger.Error("capture failed after retries",
					"error", err,
					"document_id", export.DocumentID(m),
					"event_id", m.Context.EventID,
				)
			}

		case <-checkpointCh:
			if err := p.saveCheckpoint(ctx); err != nil {
				p.logger.Error("failed to save checkpoint", "error", err)
			}
		}
	}
}

func (p *Pipeline) process(ctx context.Context, m export.Mutation) error {
	if err := p.backpressure.Wait(ctx); err != nil {
		return err
	}

	err := p.retryer.Execute(ctx, func(ctx context.Context) error {
		err := p.capture.Handle(ctx, m)
		if capture.IsNoChange(err) {
			return retry.Permanent(err)
		}
		return err
	})

	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the capture; the mutation is redelivered from
		// the last checkpoint on restart.
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.MutationsProcessed++
	p.stats.LastEventTime = time.Now()
	if err != nil {
		p.stats.MutationsFailed++
	}
	// The position advances past failed mutations too: they were retried
	// until the host budget ran out, same as a dropped stale capture.
	if lsn := source.Position(m); lsn != "" {
		p.lastLSN = lsn
	}
	if err != nil {
		return fmt.Errorf("capture %s: %w", m.Context.EventID, err)
	}
	return nil
}

func (p *Pipeline) checkpointing() bool {
	return p.config.CheckpointEnabled && p.checkpoint != nil
}

func (p *Pipeline) saveCheckpoint(ctx context.Context) error {
	if !p.checkpointing() {
		return nil
	}

	p.mu.RLock()
	lsn := p.lastLSN
	saved := p.stats.LastCheckpointLSN
	p.mu.RUnlock()

	if lsn == "" || lsn == saved {
		return nil
	}

	cp := state.Checkpoint{
		SourceID:    p.source.Name(),
		LSN:         lsn,
		CommittedAt: time.Now().UTC(),
	}
	if err := p.checkpoint.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	p.mu.Lock()
	p.stats.LastCheckpointLSN = lsn
	p.stats.LastCheckpointAt = cp.CommittedAt
	p.mu.Unlock()

	p.logger.Debug("checkpoint saved", "lsn", lsn)
	return nil
}

func (p *Pipeline) finalCheckpoint() {
	if err := p.saveCheckpoint(context.Background()); err != nil {
		p.logger.Error("failed to save final checkpoint", "error", err)
	}
}

func (p *Pipeline) stopSource() error {
	err := p.source.Stop(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stop source: %w", err)
	}
	return nil
}

func (p *Pipeline) restoreCheckpoint(ctx context.Context) error {
	cp, err := p.checkpoint.LoadCheckpoint(ctx, p.source.Name())
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		p.logger.Info("no checkpoint found, starting from slot position")
		return nil
	}

	p.mu.Lock()
	p.lastLSN = cp.LSN
	p.stats.LastCheckpointLSN = cp.LSN
	p.stats.LastCheckpointAt = cp.CommittedAt
	p.mu.Unlock()

	p.logger.Info("restored checkpoint", "lsn", cp.LSN, "committed_at", cp.CommittedAt)
	return nil
}

// Stats returns the current pipeline statistics.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// IsRunning returns whether the pipeline is currently running.
func (p *Pipeline) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Ensure the capture trigger satisfies Capturer.
var _ Capturer = (*capture.Trigger)(nil)
