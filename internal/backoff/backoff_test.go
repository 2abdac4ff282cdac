package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Stellara/internal/domain"
)

func TestExponential(t *testing.T) {
	s := Exponential{Initial: 100 * time.Millisecond, Max: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
		{100, time.Second},
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestLinearAndFixed(t *testing.T) {
	l := Linear{Initial: time.Second, Max: 3 * time.Second}
	if got := l.Delay(2); got != 2*time.Second {
		t.Errorf("expected 2s, got %v", got)
	}
	if got := l.Delay(10); got != 3*time.Second {
		t.Errorf("expected cap 3s, got %v", got)
	}

	f := Fixed{Interval: 5 * time.Second}
	if f.Delay(1) != f.Delay(7) {
		t.Error("fixed delay should not depend on attempt")
	}
}

func TestJitter_Bounds(t *testing.T) {
	s := Jitter{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}

	for attempt := 1; attempt <= 10; attempt++ {
		for range 20 {
			d := s.Delay(attempt)
			if d < 0 || d > 50*time.Millisecond {
				t.Fatalf("attempt %d: delay %v out of [0, 50ms]", attempt, d)
			}
		}
	}
}

func TestFromPolicy(t *testing.T) {
	if _, ok := FromPolicy(domain.RetryPolicy{Backoff: "fixed"}).(Fixed); !ok {
		t.Error("fixed policy should produce Fixed")
	}
	if _, ok := FromPolicy(domain.RetryPolicy{Backoff: "linear"}).(Linear); !ok {
		t.Error("linear policy should produce Linear")
	}

	s := FromPolicy(domain.RetryPolicy{})
	if got := s.Delay(1); got != DefaultInitial {
		t.Errorf("expected default initial %v, got %v", DefaultInitial, got)
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	s := Fixed{Interval: time.Millisecond}

	// Временная ошибка повторяется
	calls := 0
	err := Retry(ctx, s, 5, func() error {
		calls++
		if calls < 3 {
			return domain.Transient(errors.New("conn reset"))
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("expected success after 3 calls, got %v after %d", err, calls)
	}

	// Постоянная ошибка не повторяется
	calls = 0
	permanent := errors.New("bad input")
	err = Retry(ctx, s, 5, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("expected 1 call with permanent error, got %d: %v", calls, err)
	}

	// Исчерпание попыток
	calls = 0
	err = Retry(ctx, s, 2, func() error {
		calls++
		return domain.Transient(errors.New("timeout"))
	})
	if !domain.IsTransient(err) || calls != 2 {
		t.Errorf("expected 2 calls and transient error, got %d: %v", calls, err)
	}
}
