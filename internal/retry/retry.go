// Package retry provides backoff policies and retry classification shared by
// the dispatch queue and the live capture pipeline.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Policy defines exponential backoff behavior.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the first try).
	MaxAttempts int

	// MinInterval is the backoff floor, used after the first failure.
	MinInterval time.Duration

	// MaxInterval caps the backoff.
	MaxInterval time.Duration

	// Multiplier is the backoff multiplier.
	Multiplier float64

	// Jitter adds up to 25% on top of the computed delay. The floor is never undercut.
	Jitter bool
}

// DefaultPolicy returns the dispatch defaults: 5 attempts starting at 60s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		MinInterval: 60 * time.Second,
		MaxInterval: time.Hour,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Delay returns the wait before the attempt following failed attempt n (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	backoff := float64(p.MinInterval) * math.Pow(mult, float64(attempt-1))
	if p.MaxInterval > 0 && backoff > float64(p.MaxInterval) {
		backoff = float64(p.MaxInterval)
	}

	d := time.Duration(backoff)
	if p.Jitter && d > 0 {
		if jitter := int64(d / 4); jitter > 0 {
			d += time.Duration(rand.Int64N(jitter))
		}
		if p.MaxInterval > 0 && d > p.MaxInterval {
			d = p.MaxInterval
		}
	}
	return d
}

// Error wraps the last error of an exhausted or aborted retry loop.
type Error struct {
	Err      error
	Attempts int
	LastWait time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable marks an error as retryable or not.
type Retryable interface {
	IsRetryable() bool
}

// ClassifiedError wraps an error with an explicit retry decision.
type ClassifiedError struct {
	Err       error
	Retryable bool
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// IsRetryable reports the wrapped decision.
func (e *ClassifiedError) IsRetryable() bool {
	return e.Retryable
}

// Permanent wraps err so that it is never retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Err: err, Retryable: false}
}

// Transient wraps err so that it is always retried.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Err: err, Retryable: true}
}

// IsRetryable determines whether err should be retried. Errors are retryable
// unless marked otherwise or caused by cancellation. A deadline exceeded by an
// inner call (an HTTP client timeout, a per-attempt context) is retryable;
// callers check their own ctx.Err() to tell shutdown apart.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	return true
}

// Retryer runs operations in-process with retry logic.
type Retryer struct {
	policy  Policy
	logger  *slog.Logger
	onRetry func(attempt int, err error)
}

// NewRetryer creates a Retryer with the given policy.
func NewRetryer(policy Policy, logger *slog.Logger) *Retryer {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retryer{
		policy: policy,
		logger: logger.With("component", "retryer"),
	}
}

// OnRetry installs a hook invoked before every retry.
func (r *Retryer) OnRetry(fn func(attempt int, err error)) {
	r.onRetry = fn
}

// Execute runs op until it succeeds, returns a non-retryable error, exhausts
// the policy or ctx is done.
func (r *Retryer) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	var totalWait time.Duration

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debug("operation succeeded after retry",
					"attempt", attempt,
					"total_wait", totalWait,
				)
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return &Error{Err: fmt.Errorf("%w: %w", ctx.Err(), err), Attempts: attempt, LastWait: totalWait}
		}
		if !IsRetryable(err) {
			return &Error{Err: err, Attempts: attempt, LastWait: totalWait}
		}
		if attempt >= r.policy.MaxAttempts {
			break
		}

		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}

		wait := r.policy.Delay(attempt)
		totalWait += wait

		r.logger.Debug("retrying after error",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Err: ctx.Err(), Attempts: attempt, LastWait: totalWait}
		case <-timer.C:
		}
	}

	return &Error{Err: lastErr, Attempts: r.policy.MaxAttempts, LastWait: totalWait}
}
