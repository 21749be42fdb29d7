package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "breakout-scanner/internal/errors"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func transient() error {
	return apperrors.NewFeedError("memory", "pull", true, apperrors.ErrDataUnavailable)
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)}
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 3
	cfg.Timeout = 5 * time.Second
	cfg.Now = clock.Now
	cb := NewCircuitBreaker("feed", cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return transient() })
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, apperrors.ErrDataUnavailable) || called {
		t.Fatalf("open circuit let call through: %v", err)
	}

	clock.now = clock.now.Add(5 * time.Second)
	if err := cb.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("half-open trial call failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want CLOSED after trial call", cb.State())
	}
	if s := cb.Stats(); s.TotalRejected != 1 || s.TotalFailures != 3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestNonRecoverableErrorsDoNotTrip(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cb := NewCircuitBreaker("feed", cfg)

	err := cb.Execute(context.Background(), func(context.Context) error { return apperrors.ErrInvalidSymbol })
	if !errors.Is(err, apperrors.ErrInvalidSymbol) {
		t.Fatalf("err = %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want CLOSED", cb.State())
	}
}

func TestExecuteWithResultCancelled(t *testing.T) {
	cb := NewCircuitBreaker("feed", DefaultCircuitBreakerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)
	_, err := ExecuteWithResult(cb, ctx, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if cb.Stats().TotalTimeouts != 1 {
		t.Errorf("timeouts = %d", cb.Stats().TotalTimeouts)
	}
}
