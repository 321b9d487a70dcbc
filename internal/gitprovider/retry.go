package gitprovider

import (
	"context"
	"math/rand"
	"time"

	"github.com/devinsight/devinsight/internal/metrics"
)

// Backoff delays between attempts. Attempt 1 waits 500ms, attempt 2 waits 1s.
var retryDelays = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

const (
	// DefaultMaxAttempts bounds calls for rate-limited or failing providers.
	DefaultMaxAttempts = 3

	// JitterFactor is the ±percentage of jitter applied to delays.
	JitterFactor = 0.2
)

// NextRetryDelay calculates next retry delay with exponential backoff + jitter.
// attemptCount is 0-indexed (after first failed attempt, attemptCount = 0).
func NextRetryDelay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}
	if attemptCount >= len(retryDelays) {
		attemptCount = len(retryDelays) - 1
	}

	base := retryDelays[attemptCount]
	jitterRange := float64(base) * JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange

	return time.Duration(float64(base) + jitter)
}

// Retrier retries retryable provider calls.
type Retrier struct {
	maxAttempts int
	delay       func(attempt int) time.Duration
	recorder    metrics.Recorder
}

// NewRetrier returns the default policy: 3 attempts with jittered backoff.
func NewRetrier(recorder metrics.Recorder) *Retrier {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Retrier{
		maxAttempts: DefaultMaxAttempts,
		delay:       NextRetryDelay,
		recorder:    recorder,
	}
}

// Do runs fn until it succeeds, fails permanently, attempts run out or ctx ends.
func (r *Retrier) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if err = fn(); err == nil || !Retryable(err) {
			return err
		}
		if attempt == r.maxAttempts-1 {
			break
		}

		r.recorder.IncProviderRetry()
		timer := time.NewTimer(r.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
