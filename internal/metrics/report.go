package metrics

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/gosuri/uitable"

	"shopcap/internal/fsutil"
)

// Report renders the bucket table, the overall rollup and the top block
// reasons to w.
func Report(w io.Writer, buckets map[string]*Bucket, overall *Bucket) error {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("PROFILE", "PROXY", "CAPTURES", "OK", "SUCCESS %", "ITEMS", "AVG DUR (S)", "BLOCKS", "NAV ATT")
	for _, b := range Sorted(buckets) {
		proxy := b.Proxy
		if proxy == "" {
			proxy = "-"
		}
		table.AddRow(
			b.Profile,
			proxy,
			b.CapturesTotal,
			b.CapturesOK,
			fmt.Sprintf("%.1f", b.SuccessRate()*100),
			b.CapturedItemsSum,
			fmt.Sprintf("%.2f", b.AvgDuration()),
			b.Blocks,
			b.NavigateAttempts,
		)
	}
	if _, err := fmt.Fprintln(w, table); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nOverall: captures=%d ok=%d success=%.1f%% items=%d avg_dur=%.2fs blocks=%d\n",
		overall.CapturesTotal, overall.CapturesOK, overall.SuccessRate()*100,
		overall.CapturedItemsSum, overall.AvgDuration(), overall.Blocks)
	if err != nil {
		return err
	}

	if overall.Blocks > 0 {
		reasons := uitable.New()
		reasons.AddRow("REASON", "COUNT")
		for _, rc := range topReasons(overall.BlockReasons, 10) {
			reasons.AddRow(rc.reason, rc.count)
		}
		if _, err := fmt.Fprintf(w, "\nTop block reasons:\n%s\n", reasons); err != nil {
			return err
		}
	}
	return nil
}

type reasonCount struct {
	reason string
	count  int
}

func topReasons(m map[string]int, n int) []reasonCount {
	out := make([]reasonCount, 0, len(m))
	for r, c := range m {
		out = append(out, reasonCount{r, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].reason < out[j].reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type exportRow struct {
	Profile          string         `json:"profile"`
	Proxy            string         `json:"proxy"`
	CapturesTotal    int            `json:"captures_total"`
	CapturesOK       int            `json:"captures_ok"`
	SuccessRate      float64        `json:"success_rate"`
	CapturedItemsSum int            `json:"captured_items_sum"`
	AvgDurationS     float64        `json:"avg_duration_s"`
	Blocks           int            `json:"blocks"`
	NavigateAttempts int            `json:"navigate_attempts_sum"`
	BlockReasons     map[string]int `json:"block_reasons"`
}

func toExportRow(b *Bucket) exportRow {
	return exportRow{
		Profile:          b.Profile,
		Proxy:            b.Proxy,
		CapturesTotal:    b.CapturesTotal,
		CapturesOK:       b.CapturesOK,
		SuccessRate:      round4(b.SuccessRate()),
		CapturedItemsSum: b.CapturedItemsSum,
		AvgDurationS:     round3(b.AvgDuration()),
		Blocks:           b.Blocks,
		NavigateAttempts: b.NavigateAttempts,
		BlockReasons:     b.BlockReasons,
	}
}

func round3(v float64) float64 { return roundTo(v, 1000) }
func round4(v float64) float64 { return roundTo(v, 10000) }

func roundTo(v float64, f float64) float64 {
	if v >= 0 {
		return float64(int64(v*f+0.5)) / f
	}
	return float64(int64(v*f-0.5)) / f
}

// Export writes per-bucket rows plus the overall rollup as CSV and JSON
// under outDir. Returns the two paths.
func Export(buckets map[string]*Bucket, overall *Bucket, outDir string) (string, string, error) {
	rows := make([]exportRow, 0, len(buckets))
	for _, b := range Sorted(buckets) {
		rows = append(rows, toExportRow(b))
	}
	overallRow := toExportRow(overall)

	csvPath := filepath.Join(outDir, "metrics_summary.csv")
	jsonPath := filepath.Join(outDir, "metrics_summary.json")

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"profile", "proxy", "captures_total", "captures_ok", "success_rate",
		"captured_items_sum", "avg_duration_s", "blocks", "navigate_attempts_sum", "block_reasons"}
	if err := w.Write(header); err != nil {
		return "", "", err
	}
	for _, r := range rows {
		reasons, err := json.Marshal(r.BlockReasons)
		if err != nil {
			return "", "", err
		}
		rec := []string{
			r.Profile,
			r.Proxy,
			fmt.Sprint(r.CapturesTotal),
			fmt.Sprint(r.CapturesOK),
			fmt.Sprint(r.SuccessRate),
			fmt.Sprint(r.CapturedItemsSum),
			fmt.Sprint(r.AvgDurationS),
			fmt.Sprint(r.Blocks),
			fmt.Sprint(r.NavigateAttempts),
			string(reasons),
		}
		if err := w.Write(rec); err != nil {
			return "", "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", "", err
	}
	if err := fsutil.WriteFileAtomic(csvPath, buf.Bytes()); err != nil {
		return "", "", err
	}

	payload := map[string]any{"rows": rows, "overall": overallRow}
	if err := fsutil.WriteJSONAtomic(jsonPath, payload); err != nil {
		return "", "", err
	}
	return csvPath, jsonPath, nil
}
