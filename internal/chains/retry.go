package chains

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig controls read-path retry behavior.
type RetryConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	BackoffMult float64
}

// DefaultRetryConfig returns the retry policy used by adapters for RPC reads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		RetryDelay:  1 * time.Second,
		MaxDelay:    30 * time.Second,
		BackoffMult: 2.0,
	}
}

// WithRetry runs fn up to cfg.MaxRetries+1 times with exponential backoff.
// Context cancellation aborts immediately.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	delay := cfg.RetryDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * cfg.BackoffMult)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
