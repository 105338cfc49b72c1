package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Trip reasons, in evaluation priority order. Explicit block evidence
// always outranks a generic timeout.
const (
	ReasonBlockedStatus = "blocked by HTTP status 403/429"
	ReasonBlockedURL    = "navigated to a known block/verification page"
	ReasonInactivity    = "network inactivity timeout"
	ReasonNoMatches     = "no filtered matches within timeout"
)

// TripError aborts a capture when the circuit breaker detects a block or a
// stall. It is fatal to the current capture attempt; only the task queue
// retries it.
type TripError struct {
	Reason     string
	BlockedURL string
}

func (e *TripError) Error() string {
	if e.BlockedURL != "" {
		return fmt.Sprintf("circuit trip: %s (%s)", e.Reason, e.BlockedURL)
	}
	return "circuit trip: " + e.Reason
}

// breaker tracks session health. It is mutated by the same event handlers
// that build captured items and read by the scheduler's dwell loop.
type breaker struct {
	mu  sync.Mutex
	clk clock.Clock

	started      time.Time
	lastActivity time.Time // zero until any network event arrives
	lastMatch    time.Time // zero until a filtered match occurs

	blockedStatus bool // sticky once a 403/429 response is seen
	blockedURL    string
	blockCount    int
}

func newBreaker(clk clock.Clock) *breaker {
	return &breaker{clk: clk, started: clk.Now()}
}

func (b *breaker) touchActivity() {
	b.mu.Lock()
	b.lastActivity = b.clk.Now()
	b.mu.Unlock()
}

func (b *breaker) touchMatch() {
	b.mu.Lock()
	b.lastMatch = b.clk.Now()
	b.mu.Unlock()
}

func (b *breaker) markBlockedStatus() {
	b.mu.Lock()
	b.blockedStatus = true
	b.blockCount++
	b.mu.Unlock()
}

func (b *breaker) markBlockedURL(url string) {
	b.mu.Lock()
	if b.blockedURL == "" {
		b.blockedURL = url
	}
	b.mu.Unlock()
}

func (b *breaker) blocks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockCount
}

// shouldTrip evaluates the circuit conditions in priority order and returns
// nil while healthy. The no-matches condition is deliberately narrow: it is
// unreachable once any filtered match has ever occurred.
func (b *breaker) shouldTrip(window time.Duration) *TripError {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.blockedStatus {
		return &TripError{Reason: ReasonBlockedStatus}
	}
	if b.blockedURL != "" {
		return &TripError{Reason: ReasonBlockedURL, BlockedURL: b.blockedURL}
	}

	now := b.clk.Now()
	if b.lastActivity.IsZero() {
		if now.Sub(b.started) > window {
			return &TripError{Reason: ReasonInactivity}
		}
		return nil
	}
	// Narrow on purpose: once any filtered match has landed, going quiet is
	// a finished page, not a block signal.
	if b.lastMatch.IsZero() && now.Sub(b.lastActivity) > window {
		return &TripError{Reason: ReasonNoMatches}
	}
	return nil
}
