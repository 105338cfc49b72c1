package capture

import (
	"time"

	"go.uber.org/ratelimit"
)

// Limiter enforces a minimum gap of 60/rpm seconds between consecutive
// Acquire returns. The first call never blocks.
type Limiter struct {
	rl ratelimit.Limiter
}

// NewLimiter builds a limiter from a requests-per-minute budget. A budget
// below 1 is coerced to 1.
func NewLimiter(rpm int) *Limiter {
	if rpm < 1 {
		rpm = 1
	}
	return &Limiter{rl: ratelimit.New(rpm, ratelimit.Per(time.Minute), ratelimit.WithoutSlack)}
}

// Acquire blocks until the caller may proceed.
func (l *Limiter) Acquire() {
	l.rl.Take()
}
