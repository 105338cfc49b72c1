package metrics

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBuckets() (map[string]*Bucket, *Bucket) {
	buckets := map[string]*Bucket{
		"p1\x00": {
			Profile: "p1", CapturesTotal: 4, CapturesOK: 3, CapturedItemsSum: 12,
			DurationSum: 6, DurationCount: 4, NavigateAttempts: 5,
			Blocks: 1, BlockReasons: map[string]int{"network inactivity timeout": 1},
		},
	}
	overall := &Bucket{
		Profile: "(all)", CapturesTotal: 4, CapturesOK: 3, CapturedItemsSum: 12,
		DurationSum: 6, DurationCount: 4,
		Blocks: 1, BlockReasons: map[string]int{"network inactivity timeout": 1},
	}
	return buckets, overall
}

func TestReportRendersTableAndRollup(t *testing.T) {
	buckets, overall := sampleBuckets()
	var buf bytes.Buffer
	require.NoError(t, Report(&buf, buckets, overall))

	out := buf.String()
	assert.Contains(t, out, "PROFILE")
	assert.Contains(t, out, "p1")
	assert.Contains(t, out, "75.0")
	assert.Contains(t, out, "Overall: captures=4 ok=3")
	assert.Contains(t, out, "Top block reasons:")
	assert.Contains(t, out, "network inactivity timeout")
}

func TestExportWritesCSVAndJSON(t *testing.T) {
	buckets, overall := sampleBuckets()
	dir := t.TempDir()

	csvPath, jsonPath, err := Export(buckets, overall, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "profile", records[0][0])
	assert.Equal(t, "p1", records[1][0])
	assert.Equal(t, "0.75", records[1][4])
	assert.True(t, strings.Contains(records[1][9], "network inactivity timeout"))

	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var payload struct {
		Rows    []exportRow `json:"rows"`
		Overall exportRow   `json:"overall"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Len(t, payload.Rows, 1)
	assert.Equal(t, 0.75, payload.Rows[0].SuccessRate)
	assert.Equal(t, 1.5, payload.Rows[0].AvgDurationS)
	assert.Equal(t, 4, payload.Overall.CapturesTotal)
}

func TestTopReasonsOrderAndCap(t *testing.T) {
	m := map[string]int{"a": 1, "b": 3, "c": 3, "d": 2}
	out := topReasons(m, 3)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].reason)
	assert.Equal(t, "c", out[1].reason)
	assert.Equal(t, "d", out[2].reason)
}
