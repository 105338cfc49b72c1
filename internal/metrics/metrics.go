// Package metrics is a read-only consumer of the structured JSONL event
// log. It rebuilds its buckets from scratch on every call and never fails
// on malformed lines.
package metrics

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"shopcap/pkg/model"
)

// Bucket accumulates counters for one (profile, proxy) pair.
type Bucket struct {
	Profile          string         `json:"profile"`
	Proxy            string         `json:"proxy"`
	CapturesTotal    int            `json:"captures_total"`
	CapturesOK       int            `json:"captures_ok"`
	CapturedItemsSum int            `json:"captured_items_sum"`
	DurationSum      float64        `json:"-"`
	DurationCount    int            `json:"-"`
	NavigateAttempts int            `json:"navigate_attempts_sum"`
	Blocks           int            `json:"blocks"`
	BlockReasons     map[string]int `json:"block_reasons"`
}

// SuccessRate is captures_ok over captures_total, zero when empty.
func (b *Bucket) SuccessRate() float64 {
	if b.CapturesTotal == 0 {
		return 0
	}
	return float64(b.CapturesOK) / float64(b.CapturesTotal)
}

// AvgDuration is the mean capture duration in seconds.
func (b *Bucket) AvgDuration() float64 {
	if b.DurationCount == 0 {
		return 0
	}
	return b.DurationSum / float64(b.DurationCount)
}

// Options filter records before bucketing.
type Options struct {
	SinceTS int64  // 0 = no cutoff
	Profile string // "" = all
	Proxy   string // "" = all
}

type key struct{ profile, proxy string }

// Aggregate reads every record in the event log, applies the filters, and
// buckets by (profile, proxy). The second return is the overall rollup.
func Aggregate(path string, opts Options) (map[string]*Bucket, *Bucket, error) {
	overall := &Bucket{Profile: "(all)", BlockReasons: map[string]int{}}
	buckets := map[string]*Bucket{}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return buckets, overall, nil
		}
		return nil, nil, err
	}
	defer f.Close()

	now := time.Now().Unix()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !gjson.Valid(line) {
			continue
		}
		rec := gjson.Parse(line)

		ts := rec.Get("ts").Int()
		if ts == 0 {
			ts = now
		}
		if ts < opts.SinceTS {
			continue
		}
		profile := rec.Get("profile").String()
		if profile == "" {
			profile = "default"
		}
		proxy := rec.Get("proxy").String()
		if opts.Profile != "" && profile != opts.Profile {
			continue
		}
		if opts.Proxy != "" && proxy != opts.Proxy {
			continue
		}

		event := rec.Get("event").String()
		if event != model.EvCaptureSummary && event != model.EvCircuitTrip {
			continue
		}
		k := profile + "\x00" + proxy
		b := buckets[k]
		if b == nil {
			b = &Bucket{Profile: profile, Proxy: proxy, BlockReasons: map[string]int{}}
			buckets[k] = b
		}

		switch event {
		case model.EvCaptureSummary:
			captured := int(rec.Get("captured").Int())
			duration := rec.Get("duration_s").Float()
			nav := int(rec.Get("counters.navigate_attempts").Int())
			for _, dst := range []*Bucket{b, overall} {
				dst.CapturesTotal++
				if captured > 0 {
					dst.CapturesOK++
				}
				dst.CapturedItemsSum += captured
				dst.DurationSum += duration
				dst.DurationCount++
				dst.NavigateAttempts += nav
			}
		case model.EvCircuitTrip:
			reason := rec.Get("reason").String()
			if reason == "" {
				reason = "unknown"
			}
			for _, dst := range []*Bucket{b, overall} {
				dst.Blocks++
				dst.BlockReasons[reason]++
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return buckets, overall, nil
}

// Sorted returns buckets ordered by blocks descending, then success rate
// ascending, so the worst profiles lead the report.
func Sorted(buckets map[string]*Bucket) []*Bucket {
	out := make([]*Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Blocks != out[j].Blocks {
			return out[i].Blocks > out[j].Blocks
		}
		if out[i].SuccessRate() != out[j].SuccessRate() {
			return out[i].SuccessRate() < out[j].SuccessRate()
		}
		return out[i].Profile < out[j].Profile
	})
	return out
}
