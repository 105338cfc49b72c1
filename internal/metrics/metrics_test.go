package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEventLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestAggregateBucketsByProfile(t *testing.T) {
	path := writeEventLog(t,
		`{"event":"cdp_capture_summary","ts":100,"profile":"p1","captured":3,"duration_s":1.0,"counters":{"navigate_attempts":2,"blocks":0}}`,
		`{"event":"cdp_capture_summary","ts":200,"profile":"p1","captured":0,"duration_s":2.0,"counters":{"navigate_attempts":1,"blocks":0}}`,
		`{"event":"circuit_trip","ts":300,"profile":"p1","reason":"network inactivity timeout"}`,
		`{"event":"queue_task_start","ts":310,"profile":"p1","id":"abc"}`,
		`this line is not json at all`,
		`{"event":"cdp_capture_summary","ts":400,"profile":"p2","proxy":"socks5://10.0.0.1","captured":1,"duration_s":1.0}`,
	)

	buckets, overall, err := Aggregate(path, Options{})
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	p1 := buckets["p1\x00"]
	require.NotNil(t, p1)
	assert.Equal(t, 2, p1.CapturesTotal)
	assert.Equal(t, 1, p1.CapturesOK)
	assert.Equal(t, 3, p1.CapturedItemsSum)
	assert.Equal(t, 0.5, p1.SuccessRate())
	assert.Equal(t, 1.5, p1.AvgDuration())
	assert.Equal(t, 3, p1.NavigateAttempts)
	assert.Equal(t, 1, p1.Blocks)
	assert.Equal(t, 1, p1.BlockReasons["network inactivity timeout"])

	p2 := buckets["p2\x00socks5://10.0.0.1"]
	require.NotNil(t, p2)
	assert.Equal(t, 1, p2.CapturesTotal)
	assert.Equal(t, 1.0, p2.SuccessRate())

	assert.Equal(t, 3, overall.CapturesTotal)
	assert.Equal(t, 2, overall.CapturesOK)
	assert.Equal(t, 4, overall.CapturedItemsSum)
	assert.Equal(t, 1, overall.Blocks)
}

func TestAggregateDefaultsMissingProfile(t *testing.T) {
	path := writeEventLog(t,
		`{"event":"cdp_capture_summary","ts":100,"captured":1,"duration_s":0.5}`,
	)
	buckets, _, err := Aggregate(path, Options{})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	b := buckets["default\x00"]
	require.NotNil(t, b)
	assert.Equal(t, "default", b.Profile)
}

func TestAggregateFilters(t *testing.T) {
	path := writeEventLog(t,
		`{"event":"cdp_capture_summary","ts":100,"profile":"p1","captured":1,"duration_s":1.0}`,
		`{"event":"cdp_capture_summary","ts":500,"profile":"p2","captured":2,"duration_s":1.0}`,
		`{"event":"circuit_trip","ts":600,"profile":"p2","reason":"blocked by HTTP status 403/429"}`,
	)

	buckets, overall, err := Aggregate(path, Options{Profile: "p2"})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 1, overall.CapturesTotal)
	assert.Equal(t, 1, overall.Blocks)

	buckets, overall, err = Aggregate(path, Options{SinceTS: 400})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 2, overall.CapturedItemsSum)
}

func TestAggregateMissingFileIsEmpty(t *testing.T) {
	buckets, overall, err := Aggregate(filepath.Join(t.TempDir(), "nope.jsonl"), Options{})
	require.NoError(t, err)
	assert.Empty(t, buckets)
	assert.Equal(t, 0, overall.CapturesTotal)
	assert.Equal(t, 0.0, overall.SuccessRate())
	assert.Equal(t, 0.0, overall.AvgDuration())
}

func TestSortedWorstFirst(t *testing.T) {
	buckets := map[string]*Bucket{
		"a": {Profile: "healthy", CapturesTotal: 4, CapturesOK: 4},
		"b": {Profile: "blocked", Blocks: 3},
		"c": {Profile: "flaky", CapturesTotal: 4, CapturesOK: 1},
	}
	out := Sorted(buckets)
	require.Len(t, out, 3)
	assert.Equal(t, "blocked", out[0].Profile)
	assert.Equal(t, "flaky", out[1].Profile)
	assert.Equal(t, "healthy", out[2].Profile)
}
