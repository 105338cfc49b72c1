package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetryFirstAttemptNoDelay(t *testing.T) {
	calls := 0
	start := time.Now()
	err := withRetry(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWithRetryPropagatesLastError(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps through real backoff delays")
	}
	sentinel := errors.New("still down")
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < retryAttempts {
			return errors.New("transient")
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, retryAttempts, calls)
}

func TestWithRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := withRetry(ctx, func() error {
		calls++
		return errors.New("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "the cancelled context pre-empts the second attempt")
}

func TestBackoffDelayCurve(t *testing.T) {
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{2, time.Second, 1500 * time.Millisecond},
		{3, 2 * time.Second, 2500 * time.Millisecond},
		{4, 4 * time.Second, 4500 * time.Millisecond},
		{10, 4 * time.Second, 4500 * time.Millisecond}, // capped
	}
	for _, c := range cases {
		for i := 0; i < 20; i++ {
			d := backoffDelay(c.attempt)
			assert.GreaterOrEqual(t, d, c.min, "attempt %d", c.attempt)
			assert.LessOrEqual(t, d, c.max, "attempt %d", c.attempt)
		}
	}
}
