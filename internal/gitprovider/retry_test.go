package gitprovider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devinsight/devinsight/internal/metrics"
)

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		minDelay time.Duration
		maxDelay time.Duration
	}{
		{0, 400 * time.Millisecond, 600 * time.Millisecond},
		{1, 800 * time.Millisecond, 1200 * time.Millisecond},
		{2, 1600 * time.Millisecond, 2400 * time.Millisecond},
		{9, 1600 * time.Millisecond, 2400 * time.Millisecond},
		{-1, 400 * time.Millisecond, 600 * time.Millisecond},
	}

	for _, tt := range tests {
		for i := 0; i < 10; i++ {
			d := NextRetryDelay(tt.attempt)
			if d < tt.minDelay || d > tt.maxDelay {
				t.Errorf("NextRetryDelay(%d) = %v, want between %v and %v", tt.attempt, d, tt.minDelay, tt.maxDelay)
			}
		}
	}
}

func TestRetrier_Do(t *testing.T) {
	transient := &Error{Platform: "test", Status: 503, Err: ErrUnavailable}

	t.Run("succeeds after transient failure", func(t *testing.T) {
		rec := metrics.NewInMemory()
		r := immediateRetrier()
		r.recorder = rec

		calls := 0
		err := r.Do(context.Background(), func() error {
			calls++
			if calls < 2 {
				return transient
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, uint64(1), rec.Snapshot().ProviderRetries)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		err := immediateRetrier().Do(context.Background(), func() error {
			calls++
			return ErrUnauthorized
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := immediateRetrier().Do(context.Background(), func() error {
			calls++
			return transient
		})
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, DefaultMaxAttempts, calls)
	})

	t.Run("honours cancellation while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		r := immediateRetrier()
		r.delay = func(int) time.Duration { return time.Hour }

		err := r.Do(ctx, func() error {
			cancel()
			return transient
		})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(statusError("x", "op", 429)))
	assert.True(t, Retryable(statusError("x", "op", 500)))
	assert.True(t, Retryable(&Error{Err: ErrNetwork}))
	assert.False(t, Retryable(statusError("x", "op", 401)))
	assert.False(t, Retryable(statusError("x", "op", 403)))
	assert.False(t, Retryable(errors.New("boom")))
	assert.NoError(t, statusError("x", "op", 204))
}
