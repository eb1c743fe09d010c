package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTestError     = errors.New("test error")
	errNonRetryable = errors.New("non-retryable error")
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts, err := Do(context.Background(), FixedInterval(time.Millisecond), func(int) error {
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	var retried []int
	cfg := FixedInterval(time.Millisecond)
	cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	attempts, err := Do(context.Background(), cfg, func(attempt int) error {
		if attempt < 3 {
			return errTestError
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
	if len(retried) != 2 {
		t.Errorf("Expected OnRetry twice, got: %v", retried)
	}
}

func TestDo_MaxAttemptsExceeded(t *testing.T) {
	cfg := Config{Interval: time.Millisecond, MaxAttempts: 2}

	attempts, err := Do(context.Background(), cfg, func(int) error {
		return errTestError
	})

	if !errors.Is(err, errTestError) {
		t.Errorf("Expected wrapped test error, got: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestDo_NonRetryable(t *testing.T) {
	cfg := FixedInterval(time.Millisecond)
	cfg.NonRetryable = func(err error) bool { return errors.Is(err, errNonRetryable) }

	attempts, err := Do(context.Background(), cfg, func(int) error {
		return errNonRetryable
	})

	if !errors.Is(err, errNonRetryable) {
		t.Errorf("Expected non-retryable error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_CancelledDuringWaitExitsWithinOneInterval(t *testing.T) {
	const interval = 30 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(45 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, FixedInterval(interval), func(int) error { return errTestError })
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancellation, got: %v", err)
	}
	if elapsed > 45*time.Millisecond+interval+20*time.Millisecond {
		t.Errorf("Loop kept retrying after cancel: %v", elapsed)
	}
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	attempts, err := Do(ctx, FixedInterval(time.Millisecond), func(int) error {
		called = true
		return nil
	})

	if err == nil || called || attempts != 0 {
		t.Errorf("Expected no attempts on a cancelled context, got attempts=%d err=%v", attempts, err)
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{Interval: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}

	expected := []time.Duration{10, 20, 40, 50, 50}
	for i, want := range expected {
		if got := calculateDelay(cfg, i); got != want*time.Millisecond {
			t.Errorf("retry %d: expected %v, got %v", i, want*time.Millisecond, got)
		}
	}

	if got := calculateDelay(FixedInterval(30*time.Millisecond), 7); got != 30*time.Millisecond {
		t.Errorf("fixed interval should not grow, got %v", got)
	}
}
