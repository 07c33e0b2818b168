package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BackpressureConfig holds configuration for backpressure handling.
type BackpressureConfig struct {
	// Enabled enables backpressure handling.
	Enabled bool

	// HighWatermark is the sync queue depth that pauses capture.
	HighWatermark int64

	// LowWatermark is the depth at which capture resumes.
	LowWatermark int64

	// CheckInterval is how often to poll the depth while paused.
	CheckInterval time.Duration
}

// DefaultBackpressureConfig returns a BackpressureConfig with sensible defaults.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		Enabled:       true,
		HighWatermark: 50000,
		LowWatermark:  25000,
		CheckInterval: time.Second,
	}
}

// DepthFunc returns the number of pending tasks downstream of capture.
type DepthFunc func(ctx context.Context) (int64, error)

// Backpressure pauses the live source while the sync queue is too deep.
type Backpressure struct {
	config BackpressureConfig
	depth  DepthFunc
	logger *slog.Logger

	mu         sync.RWMutex
	paused     bool
	pauseCount int64
	lastDepth  int64
}

// NewBackpressure creates a controller. A nil depth function disables it.
func NewBackpressure(cfg BackpressureConfig, depth DepthFunc, logger *slog.Logger) *Backpressure {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if cfg.LowWatermark > cfg.HighWatermark {
		cfg.LowWatermark = cfg.HighWatermark
	}

	return &Backpressure{
		config: cfg,
		depth:  depth,
		logger: logger.With("component", "backpressure"),
	}
}

// Wait returns immediately while the depth is under the high watermark.
// Otherwise it blocks until the depth drops to the low watermark or ctx ends.
func (b *Backpressure) Wait(ctx context.Context) error {
	if b == nil || !b.config.Enabled || b.depth == nil {
		return nil
	}

	depth, err := b.sample(ctx)
	if err != nil {
		// Unknown depth never blocks capture.
		return nil
	}
	if depth < b.config.HighWatermark {
		return nil
	}

	b.setPaused(true)
	b.logger.Warn("pausing capture, sync queue too deep",
		"depth", depth,
		"high_watermark", b.config.HighWatermark,
	)

	ticker := time.NewTicker(b.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.setPaused(false)
			return ctx.Err()
		case <-ticker.C:
			depth, err := b.sample(ctx)
			if err != nil || depth > b.config.LowWatermark {
				continue
			}
			b.setPaused(false)
			b.logger.Info("resuming capture", "depth", depth, "low_watermark", b.config.LowWatermark)
			return nil
		}
	}
}

func (b *Backpressure) sample(ctx context.Context) (int64, error) {
	depth, err := b.depth(ctx)
	if err != nil {
		b.logger.Warn("failed to get queue depth", "error", err)
		return 0, err
	}
	b.mu.Lock()
	b.lastDepth = depth
	b.mu.Unlock()
	return depth, nil
}

func (b *Backpressure) setPaused(paused bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if paused && !b.paused {
		b.pauseCount++
	}
	b.paused = paused
}

// IsPaused reports whether capture is currently held back.
func (b *Backpressure) IsPaused() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.paused
}

// PauseCount returns how many times capture was paused.
func (b *Backpressure) PauseCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pauseCount
}

// LastDepth returns the most recent depth sample.
func (b *Backpressure) LastDepth() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastDepth
}
