package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"shopcap/internal/config"
	"shopcap/internal/logger"
	"shopcap/pkg/model"
)

const (
	pollInterval = 250 * time.Millisecond
	graceDelay   = 3 * time.Second
)

// ErrNoCaptures marks a capture that finished its dwell cleanly but matched
// nothing. Empty captures are a signal worth surfacing, not a silent
// success.
var ErrNoCaptures = errors.New("capture finished with zero matched items")

// ProgressObserver receives observational progress events. Implementations
// must not block; emission has no effect on control flow.
type ProgressObserver interface {
	Progress(ev model.ProgressEvent)
}

// RunRecorder persists a capture-run summary (the sqlite catalog). May be
// nil on a Scheduler.
type RunRecorder interface {
	RecordRun(kind, output string, captured int, durationS float64) error
}

// SessionBudget bounds how many pages a single browser session serves
// before it is recycled, with a jittered cooldown between sessions. An
// anti-detection/stability measure, injected so alternate policies can be
// substituted.
type SessionBudget struct {
	PagesPerSession int
	CooldownMin     time.Duration
	CooldownMax     time.Duration
}

// Chunks splits urls into session-sized groups. A non-positive budget means
// one chunk.
func (b SessionBudget) Chunks(urls []string) [][]string {
	if b.PagesPerSession <= 0 || len(urls) <= b.PagesPerSession {
		return [][]string{urls}
	}
	var out [][]string
	for start := 0; start < len(urls); start += b.PagesPerSession {
		end := start + b.PagesPerSession
		if end > len(urls) {
			end = len(urls)
		}
		out = append(out, urls[start:end])
	}
	return out
}

// Cooldown draws a jittered pause from the configured range.
func (b SessionBudget) Cooldown() time.Duration {
	if b.CooldownMax <= b.CooldownMin {
		return b.CooldownMin
	}
	return b.CooldownMin + time.Duration(rand.Int63n(int64(b.CooldownMax-b.CooldownMin)))
}

// BatchOptions parametrize one batch capture run.
type BatchOptions struct {
	Timeout     time.Duration
	Pause       time.Duration // serial: pause between URLs
	Stagger     time.Duration // concurrent: delay between tab dispatches
	Concurrency int
	Filter      *Filter
	Prefix      string // output file stem, e.g. "cdp_pdp"
	Observer    ProgressObserver
}

// Scheduler orchestrates navigation across URLs using one or many tabs,
// with staggered dispatch, per-batch dwell windows and session-budget
// chunking.
type Scheduler struct {
	cfg     *config.Config
	dial    Dialer
	limiter *Limiter
	budget  SessionBudget
	events  *logger.EventSink
	status  *StatusSink
	catalog RunRecorder
	log     zerolog.Logger
}

// NewScheduler wires a scheduler from the injected collaborators. events,
// status and catalog may be nil.
func NewScheduler(cfg *config.Config, dial Dialer, events *logger.EventSink, status *StatusSink, catalog RunRecorder, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		dial:    dial,
		limiter: NewLimiter(cfg.RequestsPerMinute),
		budget: SessionBudget{
			PagesPerSession: cfg.PagesPerSession,
			CooldownMin:     secs(cfg.CooldownMinS),
			CooldownMax:     secs(cfg.CooldownMaxS),
		},
		events:  events,
		status:  status,
		catalog: catalog,
		log:     log,
	}
}

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func (s *Scheduler) sessionOpts(filter *Filter) SessionOptions {
	block := MustFilter(DefaultBlockPatterns)
	if len(s.cfg.BlockPatterns) > 0 {
		if f, err := NewFilter(s.cfg.BlockPatterns); err == nil {
			block = f
		}
	}
	return SessionOptions{
		Filter:      filter,
		BlockFilter: block,
		Locale:      s.cfg.Locale,
		Timezone:    s.cfg.Timezone,
		Log:         s.log,
	}
}

func (s *Scheduler) outPath(prefix string) string {
	return filepath.Join(s.cfg.DataDir, fmt.Sprintf("%s_%d.jsonl", prefix, time.Now().Unix()))
}

// dwell waits out the capture window, polling the circuit breaker every
// cycle after a short grace period so network has a chance to settle.
func (s *Scheduler) dwell(ctx context.Context, sess *Session, timeout time.Duration) error {
	window := secs(s.cfg.InactivityWindowS)
	start := time.Now()
	for time.Since(start) < timeout {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
		if time.Since(start) < graceDelay {
			continue
		}
		if trip := sess.ShouldTrip(window); trip != nil {
			s.tripped(trip)
			return trip
		}
	}
	return nil
}

func (s *Scheduler) tripped(trip *TripError) {
	s.log.Error().Str("reason", trip.Reason).Str("url", trip.BlockedURL).Msg("circuit tripped")
	fields := map[string]any{"reason": trip.Reason}
	if trip.BlockedURL != "" {
		fields["blocked_url"] = trip.BlockedURL
	}
	s.events.Emit(model.EvCircuitTrip, fields)
	if err := s.status.Write("blocked", trip.Error()); err != nil {
		s.log.Warn().Err(err).Msg("status sink write failed")
	}
}

func (s *Scheduler) summarize(prefix, out string, captured, navAttempts, blocks int, started time.Time) {
	duration := time.Since(started).Seconds()
	s.events.Emit(model.EvCaptureSummary, map[string]any{
		"captured":   captured,
		"duration_s": duration,
		"output":     out,
		"counters": map[string]any{
			"navigate_attempts": navAttempts,
			"blocks":            blocks,
		},
	})
	if s.catalog != nil {
		if err := s.catalog.RecordRun(prefix, out, captured, duration); err != nil {
			s.log.Warn().Err(err).Msg("catalog record failed")
		}
	}
}

func (s *Scheduler) degraded(out string) error {
	reason := "capture completed with zero matched items"
	if err := s.status.Write("degraded", reason); err != nil {
		s.log.Warn().Err(err).Msg("status sink write failed")
	}
	return fmt.Errorf("%s: %w", out, ErrNoCaptures)
}

// CaptureOnce opens one session with one tab, navigates once and dwells for
// timeout. The JSONL path is returned even on a circuit trip: whatever was
// captured before the trip is preserved.
func (s *Scheduler) CaptureOnce(ctx context.Context, url string, timeout time.Duration, filter *Filter, prefix string) (string, int, error) {
	started := time.Now()
	browser, err := s.dial(ctx)
	if err != nil {
		return "", 0, err
	}
	sess := NewSession(browser, s.sessionOpts(filter))
	defer sess.Close()

	tab, err := sess.NewTab(ctx)
	if err != nil {
		return "", 0, err
	}
	navAttempts := 0
	if err := withRetry(ctx, func() error {
		navAttempts++
		return tab.Navigate(ctx, url)
	}); err != nil {
		return "", 0, fmt.Errorf("navigate %s: %w", url, err)
	}

	dwellErr := s.dwell(ctx, sess, timeout)

	out := s.outPath(prefix)
	n, dumpErr := sess.DumpItemsJSONL(out)
	if dumpErr != nil {
		return "", 0, dumpErr
	}
	s.summarize(prefix, out, n, navAttempts, sess.Blocks(), started)
	if dwellErr != nil {
		return out, n, dwellErr
	}
	if n == 0 {
		return out, 0, s.degraded(out)
	}
	s.log.Info().Int("captured", n).Str("output", out).Msg("capture complete")
	return out, n, nil
}

// CaptureBatch navigates urls sequentially through one tab per session
// chunk: a rate-limiter gate before every navigation, a per-URL dwell and
// circuit check, and a configurable pause between URLs. Navigation failures
// are skipped; a circuit trip aborts the whole batch. Chunk outputs are
// concatenated in chunk order.
func (s *Scheduler) CaptureBatch(ctx context.Context, urls []string, o BatchOptions) (string, int, error) {
	started := time.Now()
	chunks := s.budget.Chunks(urls)
	var (
		chunkPaths  []string
		total       int
		navAttempts int
		blocks      int
		index       int
		runErr      error
	)

	for ci, chunk := range chunks {
		if ci > 0 {
			s.cooldown(ctx)
		}
		path, n, err := s.runSerialChunk(ctx, chunk, ci, len(urls), &index, &navAttempts, &blocks, o)
		if path != "" {
			chunkPaths = append(chunkPaths, path)
			total += n
		}
		if err != nil {
			runErr = err
			break
		}
	}

	out, err := s.concat(chunkPaths, o.Prefix)
	if err != nil {
		return "", total, err
	}
	s.summarize(o.Prefix, out, total, navAttempts, blocks, started)
	if runErr != nil {
		return out, total, runErr
	}
	if total == 0 {
		return out, 0, s.degraded(out)
	}
	return out, total, nil
}

func (s *Scheduler) runSerialChunk(ctx context.Context, chunk []string, ci, totalURLs int, index, navAttempts, blocks *int, o BatchOptions) (string, int, error) {
	browser, err := s.dial(ctx)
	if err != nil {
		return "", 0, err
	}
	sess := NewSession(browser, s.sessionOpts(o.Filter))
	defer sess.Close()

	tab, err := sess.NewTab(ctx)
	if err != nil {
		return "", 0, err
	}

	var tripErr error
	for _, url := range chunk {
		i := *index
		*index++
		observe(o.Observer, model.ProgressEvent{Stage: "start", Index: i, Total: totalURLs, URL: url, Batch: ci})

		s.limiter.Acquire()
		err := withRetry(ctx, func() error {
			*navAttempts++
			return tab.Navigate(ctx, url)
		})
		if err != nil {
			s.log.Warn().Err(err).Str("url", url).Msg("navigation failed, skipping")
			continue
		}
		if err := s.dwell(ctx, sess, o.Timeout); err != nil {
			tripErr = err
			break
		}
		observe(o.Observer, model.ProgressEvent{Stage: "done", Index: i, Total: totalURLs, URL: url, Batch: ci})
		if o.Pause > 0 {
			sleep(ctx, o.Pause)
		}
	}

	*blocks += sess.Blocks()
	path := filepath.Join(s.cfg.DataDir, fmt.Sprintf("%s_%d_chunk%d.jsonl", o.Prefix, time.Now().Unix(), ci))
	n, err := sess.DumpItemsJSONL(path)
	if err != nil {
		return "", 0, err
	}
	return path, n, tripErr
}

// CaptureBatchConcurrent pre-creates up to Concurrency tabs per session
// chunk and dispatches URLs in fixed-size batches, staggering each tab's
// navigation. One dwell per batch is shared across its tabs; a single trip
// anywhere aborts the run. Chunking and cooldowns apply as in the serial
// case.
func (s *Scheduler) CaptureBatchConcurrent(ctx context.Context, urls []string, o BatchOptions) (string, int, error) {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	started := time.Now()
	chunks := s.budget.Chunks(urls)
	var (
		chunkPaths  []string
		total       int
		navAttempts int
		blocks      int
		index       int
		batchNo     int
		runErr      error
	)

	for ci, chunk := range chunks {
		if ci > 0 {
			s.cooldown(ctx)
		}
		path, n, err := s.runConcurrentChunk(ctx, chunk, ci, len(urls), &index, &batchNo, &navAttempts, &blocks, o)
		if path != "" {
			chunkPaths = append(chunkPaths, path)
			total += n
		}
		if err != nil {
			runErr = err
			break
		}
	}

	out, err := s.concat(chunkPaths, o.Prefix)
	if err != nil {
		return "", total, err
	}
	s.summarize(o.Prefix, out, total, navAttempts, blocks, started)
	if runErr != nil {
		return out, total, runErr
	}
	if total == 0 {
		return out, 0, s.degraded(out)
	}
	return out, total, nil
}

func (s *Scheduler) runConcurrentChunk(ctx context.Context, chunk []string, ci, totalURLs int, index, batchNo, navAttempts, blocks *int, o BatchOptions) (string, int, error) {
	browser, err := s.dial(ctx)
	if err != nil {
		return "", 0, err
	}
	sess := NewSession(browser, s.sessionOpts(o.Filter))
	defer sess.Close()

	nTabs := o.Concurrency
	if nTabs > len(chunk) {
		nTabs = len(chunk)
	}
	tabs := make([]Tab, 0, nTabs)
	for i := 0; i < nTabs; i++ {
		tab, err := sess.NewTab(ctx)
		if err != nil {
			return "", 0, err
		}
		tabs = append(tabs, tab)
	}

	var tripErr error
	for start := 0; start < len(chunk) && tripErr == nil; start += nTabs {
		end := start + nTabs
		if end > len(chunk) {
			end = len(chunk)
		}
		batch := chunk[start:end]
		for slot, url := range batch {
			if slot > 0 && o.Stagger > 0 {
				sleep(ctx, o.Stagger)
			}
			i := *index
			*index++
			observe(o.Observer, model.ProgressEvent{Stage: "start", Index: i, Total: totalURLs, URL: url, Slot: slot, Batch: *batchNo})
			err := withRetry(ctx, func() error {
				*navAttempts++
				return tabs[slot].Navigate(ctx, url)
			})
			if err != nil {
				s.log.Warn().Err(err).Str("url", url).Int("slot", slot).Msg("navigation failed, skipping")
			}
		}
		if err := s.dwell(ctx, sess, o.Timeout); err != nil {
			tripErr = err
			break
		}
		observe(o.Observer, model.ProgressEvent{Stage: "batch_done", Index: *index - 1, Total: totalURLs, Batch: *batchNo})
		*batchNo++
	}

	*blocks += sess.Blocks()
	path := filepath.Join(s.cfg.DataDir, fmt.Sprintf("%s_%d_chunk%d.jsonl", o.Prefix, time.Now().Unix(), ci))
	n, err := sess.DumpItemsJSONL(path)
	if err != nil {
		return "", 0, err
	}
	return path, n, tripErr
}

// concat stitches per-chunk JSONL files into the final output in chunk
// order and removes the chunk files.
func (s *Scheduler) concat(chunkPaths []string, prefix string) (string, error) {
	out := s.outPath(prefix)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(out)
	if err != nil {
		return "", err
	}
	defer f.Close()
	for _, p := range chunkPaths {
		src, err := os.Open(p)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(f, src)
		src.Close()
		if err != nil {
			return "", err
		}
		os.Remove(p)
	}
	return out, nil
}

func (s *Scheduler) cooldown(ctx context.Context) {
	d := s.budget.Cooldown()
	if d <= 0 {
		return
	}
	s.log.Debug().Dur("cooldown", d).Msg("session budget cooldown")
	sleep(ctx, d)
}

func observe(obs ProgressObserver, ev model.ProgressEvent) {
	if obs != nil {
		obs.Progress(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
