package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		MinInterval: 5 * time.Millisecond,
		MaxInterval: 20 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{
		MinInterval: 60 * time.Second,
		MaxInterval: 5 * time.Minute,
		Multiplier:  2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 60 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{4, 5 * time.Minute},
		{10, 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := p.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestPolicy_DelayJitterKeepsFloor(t *testing.T) {
	p := DefaultPolicy()
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		if d < p.MinInterval {
			t.Fatalf("Delay(1) = %v, below floor %v", d, p.MinInterval)
		}
		if d > p.MinInterval+p.MinInterval/4 {
			t.Fatalf("Delay(1) = %v, jitter above 25%%", d)
		}
	}
}

func TestRetryer_EventualSuccess(t *testing.T) {
	r := NewRetryer(fastPolicy(), nil)
	calls := 0
	retries := 0
	r.OnRetry(func(int, error) { retries++ })

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if retries != 2 {
		t.Errorf("expected 2 retries, got %d", retries)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	r := NewRetryer(fastPolicy(), nil)
	calls := 0

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("persistent error")
	})

	var retryErr *Error
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if retryErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", retryErr.Attempts)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryer_PermanentStopsImmediately(t *testing.T) {
	r := NewRetryer(fastPolicy(), nil)
	calls := 0

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("bad payload"))
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryer_ContextCancelled(t *testing.T) {
	p := fastPolicy()
	p.MinInterval = time.Second
	r := NewRetryer(p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Execute(ctx, func(ctx context.Context) error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"permanent", Permanent(errors.New("x")), false},
		{"transient", Transient(context.DeadlineExceeded), true},
		{"wrapped permanent", fmt.Errorf("outer: %w", Permanent(errors.New("x"))), false},
		{"canceled", context.Canceled, false},
		{"inner deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"wrapped canceled", fmt.Errorf("call: %w", context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryer_InnerTimeoutIsRetried(t *testing.T) {
	r := NewRetryer(fastPolicy(), nil)
	calls := 0

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			cctx, cancel := context.WithTimeout(ctx, time.Millisecond)
			defer cancel()
			<-cctx.Done()
			return fmt.Errorf("commit snapshot: %w", cctx.Err())
		}
		return nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryer_ParentDeadlineStops(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 10
	r := NewRetryer(p, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := r.Execute(ctx, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return fmt.Errorf("write: %w", ctx.Err())
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
