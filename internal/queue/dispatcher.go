package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/janovincze/tributary/internal/metrics"
	"github.com/janovincze/tributary/internal/retry"
)

// Handler processes one leased task. A nil error acknowledges the task.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	// MaxConcurrentDispatches caps handlers running at once across all queues.
	MaxConcurrentDispatches int

	// MaxDispatchesPerSecond paces handler starts. Zero means unlimited.
	MaxDispatchesPerSecond float64

	// LeaseDuration is both the lease length and the handler execution budget.
	LeaseDuration time.Duration

	// PollInterval is how long an idle queue waits before polling again.
	PollInterval time.Duration

	// Backoff computes the redelivery delay after a failed attempt.
	Backoff retry.Policy

	// DeadLetterRetention is how long dead letters are kept.
	DeadLetterRetention time.Duration

	// DepthInterval controls how often queue depth gauges are refreshed.
	DepthInterval time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConcurrentDispatches: 1000,
		LeaseDuration:           9 * time.Minute,
		PollInterval:            time.Second,
		Backoff:                 retry.DefaultPolicy(),
		DeadLetterRetention:     7 * 24 * time.Hour,
		DepthInterval:           15 * time.Second,
	}
}

// Dispatcher leases tasks from a Queue and runs registered handlers with
// bounded concurrency. Failed tasks are nacked with backoff until they exhaust
// their attempts or fail permanently, then they are dead-lettered.
type Dispatcher struct {
	queue    Queue
	dlq      DeadLetterStore
	config   DispatcherConfig
	logger   *slog.Logger
	limiter  *rate.Limiter
	sem      chan struct{}
	handlers map[string]Handler
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. A nil dlq keeps dead letters in memory.
func NewDispatcher(q Queue, dlq DeadLetterStore, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if dlq == nil {
		dlq = NewMemoryDeadLetters()
	}

	d := DefaultDispatcherConfig()
	if cfg.MaxConcurrentDispatches <= 0 {
		cfg.MaxConcurrentDispatches = d.MaxConcurrentDispatches
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = d.LeaseDuration
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = d.DepthInterval
	}

	limit := rate.Inf
	burst := cfg.MaxConcurrentDispatches
	if cfg.MaxDispatchesPerSecond > 0 {
		limit = rate.Limit(cfg.MaxDispatchesPerSecond)
		burst = max(1, int(cfg.MaxDispatchesPerSecond))
	}

	return &Dispatcher{
		queue:    q,
		dlq:      dlq,
		config:   cfg,
		logger:   logger.With("component", "dispatcher"),
		limiter:  rate.NewLimiter(limit, burst),
		sem:      make(chan struct{}, cfg.MaxConcurrentDispatches),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a queue. It must be called before Run.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// DeadLetters returns the dead letter store in use.
func (d *Dispatcher) DeadLetters() DeadLetterStore {
	return d.dlq
}

// Run polls every registered queue until ctx is cancelled, then waits for
// in-flight handlers to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.handlers) == 0 {
		return fmt.Errorf("dispatcher: %w: no handlers registered", ErrUnknownQueue)
	}

	d.logger.Info("dispatcher started",
		"queues", len(d.handlers),
		"max_concurrent", d.config.MaxConcurrentDispatches,
		"max_per_second", d.config.MaxDispatchesPerSecond,
	)

	var pollers sync.WaitGroup
	for name := range d.handlers {
		pollers.Add(1)
		go func(name string) {
			defer pollers.Done()
			d.poll(ctx, name)
		}(name)
	}

	pollers.Add(1)
	go func() {
		defer pollers.Done()
		d.reportDepth(ctx)
	}()

	pollers.Wait()
	d.wg.Wait()

	d.logger.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) poll(ctx context.Context, name string) {
	for {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		task, err := d.queue.Dequeue(ctx, name, d.config.LeaseDuration)
		if err != nil {
			<-d.sem
			if !errors.Is(err, ErrEmpty) && ctx.Err() == nil {
				d.logger.Warn("failed to lease task", "queue", name, "error", err)
			}
			if !sleep(ctx, d.config.PollInterval) {
				return
			}
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			<-d.sem
			d.release(context.WithoutCancel(ctx), *task)
			return
		}

		d.wg.Add(1)
		go func(task Task) {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			d.dispatch(ctx, task)
		}(*task)
	}
}

// RunOnce leases and dispatches a single task synchronously. It reports
// whether a task was found.
func (d *Dispatcher) RunOnce(ctx context.Context, name string) (bool, error) {
	task, err := d.queue.Dequeue(ctx, name, d.config.LeaseDuration)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	d.dispatch(ctx, *task)
	return true, nil
}

// Drain dispatches available tasks from the registered queues synchronously
// until none are left or limit tasks have run. It returns the number run.
func (d *Dispatcher) Drain(ctx context.Context, limit int) (int, error) {
	ran := 0
	for limit <= 0 || ran < limit {
		found := false
		for name := range d.handlers {
			ok, err := d.RunOnce(ctx, name)
			if err != nil {
				return ran, err
			}
			if ok {
				found = true
				ran++
			}
		}
		if !found {
			break
		}
	}
	return ran, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, task Task) {
	start := time.Now()
	metrics.QueueInFlight.WithLabelValues(task.Queue).Inc()
	defer metrics.QueueInFlight.WithLabelValues(task.Queue).Dec()

	hctx, cancel := context.WithTimeout(ctx, d.config.LeaseDuration)
	err := d.invoke(hctx, task)
	timedOut := errors.Is(hctx.Err(), context.DeadlineExceeded)
	cancel()

	metrics.QueueDispatchDuration.WithLabelValues(task.Queue).Observe(time.Since(start).Seconds())

	// Settle the task even when the dispatcher is shutting down.
	bg := context.WithoutCancel(ctx)

	if err == nil {
		if ackErr := d.queue.Ack(bg, task.ID); ackErr != nil {
			d.logger.Error("failed to ack task", "queue", task.Queue, "id", task.ID, "error", ackErr)
		}
		metrics.QueueDispatchesTotal.WithLabelValues(task.Queue, metrics.OutcomeSuccess).Inc()
		return
	}

	metrics.QueueDispatchesTotal.WithLabelValues(task.Queue, metrics.OutcomeFailure).Inc()

	if ctx.Err() != nil {
		// Shutdown interrupted the handler; the attempt does not count.
		d.release(bg, task)
		return
	}

	retryable := timedOut || retry.IsRetryable(err)
	if !retryable || task.Exhausted() {
		d.deadLetter(bg, task, err)
		return
	}

	delay := d.config.Backoff.Delay(task.Attempts)
	d.logger.Warn("task failed, scheduling retry",
		"queue", task.Queue,
		"id", task.ID,
		"attempt", task.Attempts,
		"max_attempts", task.MaxAttempts,
		"delay", delay,
		"error", err,
	)
	if nackErr := d.queue.Nack(bg, task.ID, err, delay); nackErr != nil {
		d.logger.Error("failed to nack task", "queue", task.Queue, "id", task.ID, "error", nackErr)
	}
}

func (d *Dispatcher) release(ctx context.Context, task Task) {
	if err := d.queue.Release(ctx, task.ID); err != nil {
		d.logger.Error("failed to release task", "queue", task.Queue, "id", task.ID, "error", err)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, task Task) (err error) {
	h, ok := d.handlers[task.Queue]
	if !ok {
		return retry.Permanent(fmt.Errorf("%w: %s", ErrUnknownQueue, task.Queue))
	}

	defer func() {
		if r := recover(); r != nil {
			err = retry.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h.Handle(ctx, task)
}

func (d *Dispatcher) deadLetter(ctx context.Context, task Task, cause error) {
	dl := NewDeadLetter(task, cause, d.config.DeadLetterRetention)

	id, err := d.dlq.Write(ctx, dl)
	if err != nil {
		// Keep the task rather than lose it.
		d.logger.Error("failed to dead-letter task", "queue", task.Queue, "id", task.ID, "error", err)
		_ = d.queue.Nack(ctx, task.ID, cause, d.config.Backoff.Delay(task.Attempts))
		return
	}

	if err := d.queue.Ack(ctx, task.ID); err != nil {
		d.logger.Error("failed to ack dead-lettered task", "queue", task.Queue, "id", task.ID, "error", err)
	}

	metrics.QueueDeadLetterTotal.WithLabelValues(task.Queue, string(dl.ErrorType)).Inc()
	d.logger.Error("task moved to dead letters",
		"queue", task.Queue,
		"id", task.ID,
		"dead_letter_id", id,
		"attempts", task.Attempts,
		"error_type", dl.ErrorType,
		"error", cause,
	)
}

func (d *Dispatcher) reportDepth(ctx context.Context) {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}

	ticker := time.NewTicker(d.config.DepthInterval)
	defer ticker.Stop()

	for {
		depths, err := d.queue.Depths(ctx, names)
		if err == nil {
			for name, n := range depths {
				metrics.QueueDepth.WithLabelValues(name).Set(float64(n))
			}
		} else if ctx.Err() == nil {
			d.logger.Debug("failed to read queue depth", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
