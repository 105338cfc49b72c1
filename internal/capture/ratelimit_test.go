package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterEnforcesMinimumGap(t *testing.T) {
	// 3000 rpm = one permit every 20ms.
	l := NewLimiter(3000)
	l.Acquire()
	start := time.Now()
	l.Acquire()
	l.Acquire()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestLimiterCoercesZeroBudget(t *testing.T) {
	l := NewLimiter(0)
	start := time.Now()
	l.Acquire() // the first permit is free
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
