package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestCircuitBreakerTransitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, 1, 10*time.Second)
	cb.now = func() time.Time { return now }

	if err := cb.Allow(); err != nil {
		t.Fatalf("closed breaker rejected request: %v", err)
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if got := cb.GetState(); got != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}

	now = now.Add(11 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("breaker should allow a trial call after timeout: %v", err)
	}
	if got := cb.GetState(); got != CircuitHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", got)
	}

	cb.RecordSuccess()
	if got := cb.GetState(); got != CircuitClosed {
		t.Errorf("state = %s, want CLOSED", got)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(1, 2, time.Second)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	_ = cb.Allow()
	cb.RecordFailure()

	if got := cb.GetState(); got != CircuitOpen {
		t.Errorf("state = %s, want OPEN", got)
	}
}

func TestCircuitStateString(t *testing.T) {
	tests := map[CircuitState]string{
		CircuitClosed:    "CLOSED",
		CircuitOpen:      "OPEN",
		CircuitHalfOpen:  "HALF_OPEN",
		CircuitState(42): "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"rate limited api", &anthropic.Error{StatusCode: 429}, true},
		{"server error api", &anthropic.Error{StatusCode: 503}, true},
		{"bad request api", &anthropic.Error{StatusCode: 400}, false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"overloaded", errors.New("Overloaded"), true},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetriableError(tt.err); got != tt.want {
				t.Errorf("isRetriableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryWithBackoffStopsOnNonRetriable(t *testing.T) {
	retry := DefaultRetryConfig()
	retry.MaxRetries = 3
	retry.InitialBackoff = time.Millisecond
	c := newClient(&fakeMessages{}, Config{Retry: retry})

	calls := 0
	err := c.retryWithBackoff(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("invalid api key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	retry := DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.InitialBackoff = time.Millisecond
	retry.MaxBackoff = time.Millisecond
	retry.CircuitBreakerEnabled = false
	c := newClient(&fakeMessages{}, Config{Retry: retry})

	calls := 0
	err := c.retryWithBackoff(context.Background(), "test", func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want wrapped DeadlineExceeded", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
