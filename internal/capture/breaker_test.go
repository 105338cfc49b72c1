package capture

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWindow = 10 * time.Second

func TestBreakerInactivityFromStart(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker(clk)

	assert.Nil(t, b.shouldTrip(testWindow))
	clk.Add(testWindow)
	assert.Nil(t, b.shouldTrip(testWindow), "boundary is not yet a trip")

	clk.Add(time.Second)
	trip := b.shouldTrip(testWindow)
	require.NotNil(t, trip)
	assert.Equal(t, ReasonInactivity, trip.Reason)
}

func TestBreakerNoMatchesAfterActivityStops(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker(clk)

	clk.Add(2 * time.Second)
	b.touchActivity()
	clk.Add(testWindow - time.Second)
	assert.Nil(t, b.shouldTrip(testWindow))

	clk.Add(2 * time.Second)
	trip := b.shouldTrip(testWindow)
	require.NotNil(t, trip)
	assert.Equal(t, ReasonNoMatches, trip.Reason)
}

func TestBreakerMatchedSessionNeverTripsOnQuiet(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker(clk)

	b.touchActivity()
	b.touchMatch()
	clk.Add(time.Hour)
	assert.Nil(t, b.shouldTrip(testWindow), "a finished page going quiet is healthy")
}

func TestBreakerActivityResetsTheWindow(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker(clk)

	for i := 0; i < 5; i++ {
		b.touchActivity()
		clk.Add(testWindow / 2)
		assert.Nil(t, b.shouldTrip(testWindow))
	}
}

func TestBreakerBlockedStatusIsStickyAndImmediate(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker(clk)

	b.touchActivity()
	b.touchMatch()
	b.markBlockedStatus()
	b.markBlockedStatus()

	trip := b.shouldTrip(testWindow)
	require.NotNil(t, trip)
	assert.Equal(t, ReasonBlockedStatus, trip.Reason)
	assert.Equal(t, 2, b.blocks())

	// Later matches do not clear it.
	b.touchMatch()
	trip = b.shouldTrip(testWindow)
	require.NotNil(t, trip)
	assert.Equal(t, ReasonBlockedStatus, trip.Reason)
}

func TestBreakerPriorityOrder(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker(clk)

	b.markBlockedURL("https://x/verify/traffic")
	trip := b.shouldTrip(testWindow)
	require.NotNil(t, trip)
	assert.Equal(t, ReasonBlockedURL, trip.Reason)
	assert.Equal(t, "https://x/verify/traffic", trip.BlockedURL)

	// Status evidence outranks the URL evidence.
	b.markBlockedStatus()
	trip = b.shouldTrip(testWindow)
	require.NotNil(t, trip)
	assert.Equal(t, ReasonBlockedStatus, trip.Reason)
}

func TestBreakerFirstBlockedURLWins(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker(clk)

	b.markBlockedURL("https://x/verify/first")
	b.markBlockedURL("https://x/verify/second")
	trip := b.shouldTrip(testWindow)
	require.NotNil(t, trip)
	assert.Equal(t, "https://x/verify/first", trip.BlockedURL)
}

func TestTripErrorMessage(t *testing.T) {
	e := &TripError{Reason: ReasonBlockedURL, BlockedURL: "https://x/verify/a"}
	assert.Equal(t, "circuit trip: "+ReasonBlockedURL+" (https://x/verify/a)", e.Error())

	e = &TripError{Reason: ReasonInactivity}
	assert.Equal(t, "circuit trip: "+ReasonInactivity, e.Error())
}
