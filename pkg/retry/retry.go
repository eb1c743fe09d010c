package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config holds retry configuration
type Config struct {
	Interval    time.Duration // Wait between attempts
	MaxAttempts int           // 0 retries until success or cancellation
	Multiplier  float64       // 1 (or 0) keeps the interval fixed
	MaxDelay    time.Duration // Cap for a growing interval
	// NonRetryable errors end the loop immediately (matched with errors.Is
	// semantics by the caller-supplied predicate)
	NonRetryable func(error) bool
	// OnRetry is called after every failed attempt, before sleeping
	OnRetry func(attempt int, err error)
}

// FixedInterval returns an unbounded fixed-interval configuration, the shape
// used by every reconnect loop in the pipeline.
func FixedInterval(d time.Duration) Config {
	return Config{Interval: d, Multiplier: 1}
}

// Do runs fn until it succeeds, the attempt budget is spent, a
// non-retryable error is returned, or ctx is cancelled. The wait between
// attempts is interruptible so cancellation is observed within one interval.
// It returns the number of attempts made.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) (int, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if cfg.NonRetryable != nil && cfg.NonRetryable(err) {
			return attempt, fmt.Errorf("non-retryable error: %w", err)
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return attempt, fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		if err := Sleep(ctx, calculateDelay(cfg, attempt-1)); err != nil {
			return attempt, fmt.Errorf("retry cancelled during wait: %w", err)
		}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// calculateDelay calculates the delay for the given zero-based retry
func calculateDelay(cfg Config, retry int) time.Duration {
	if cfg.Multiplier <= 1 {
		return cfg.Interval
	}
	delay := float64(cfg.Interval) * math.Pow(cfg.Multiplier, float64(retry))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
