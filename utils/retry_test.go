package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetryFixedDelay(t *testing.T) {
	var delays []time.Duration
	r := InitPolicy(3, 5*time.Second, NewNopLogger())
	r.sleep = recordingSleep(&delays)

	calls := 0
	err := r.Do(context.Background(), "bot-init", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, delays)
}

func TestRetryExponentialDelay(t *testing.T) {
	var delays []time.Duration
	r := &RetryConfig{MaxAttempts: 4, BaseDelay: time.Second, Backoff: BackoffExponential}
	r.sleep = recordingSleep(&delays)

	_ = r.Do(context.Background(), "op", func() error { return errors.New("boom") })

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestRetryExhausted(t *testing.T) {
	cause := errors.New("unreachable")
	r := InitPolicy(2, 0, nil)
	r.sleep = recordingSleep(new([]time.Duration))

	err := r.Do(context.Background(), "op", func() error { return cause })

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, cause)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := InitPolicy(5, time.Hour, nil)
	calls := 0
	err := r.Do(ctx, "op", func() error {
		calls++
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
