package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// BackoffFixed waits BaseDelay between every attempt.
	BackoffFixed Backoff = iota
	// BackoffExponential doubles the delay after each failed attempt.
	BackoffExponential
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     Backoff
	Logger      *Logger

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

// InitPolicy is the shared contract for bringing collaborators up:
// a fixed number of attempts with a fixed delay between them.
func InitPolicy(attempts int, delay time.Duration, logger *Logger) *RetryConfig {
	return &RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   delay,
		Backoff:     BackoffFixed,
		Logger:      logger,
	}
}

// Do executes fn until it succeeds, the attempts run out, or ctx is done.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < attempts {
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt, attempts, lastErr, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s aborted after %d attempts: %w", operationName, attempt, err)
			}
			if r.Backoff == BackoffExponential {
				delay *= 2
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w: %w", operationName, attempts, ErrRetriesExhausted, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
