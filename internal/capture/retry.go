package capture

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const retryAttempts = 3

// backoffDelay is the wait before attempt k (1-based):
// min(4, 0.5*2^(k-1)) + uniform(0, 0.5) seconds.
func backoffDelay(attempt int) time.Duration {
	base := math.Min(4, 0.5*math.Pow(2, float64(attempt-1)))
	jitter := rand.Float64() * 0.5
	return time.Duration((base + jitter) * float64(time.Second))
}

// withRetry runs fn up to retryAttempts times, sleeping the backoff delay
// before each retry. Any error qualifies; the last error propagates
// unchanged. This is the only retry mechanism inside a capture session;
// circuit-breaker and task-level retries live elsewhere.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
