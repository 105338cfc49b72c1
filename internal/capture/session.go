package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"shopcap/pkg/model"
)

const bodyFetchTimeout = 10 * time.Second

// SessionOptions configures one capture session.
type SessionOptions struct {
	Filter      *Filter // capture eligibility
	BlockFilter *Filter // block/verification page detection
	Locale      string
	Timezone    string
	Clock       clock.Clock
	Log         zerolog.Logger
}

// Session owns one browser attachment: it registers event listeners on each
// tab it controls, tracks captured items in insertion order, and feeds the
// circuit breaker. The item store is mutated only by event handlers and read
// by the dwell loop and the final dump.
type Session struct {
	browser Browser
	opts    SessionOptions
	brk     *breaker

	mu    sync.Mutex
	items map[string]*model.CapturedItem
	order []string

	tabs  []Tab
	pumps sync.WaitGroup
}

// NewSession wraps an open browser attachment.
func NewSession(browser Browser, opts SessionOptions) *Session {
	if opts.Filter == nil {
		opts.Filter = &Filter{}
	}
	if opts.BlockFilter == nil {
		opts.BlockFilter = MustFilter(DefaultBlockPatterns)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Session{
		browser: browser,
		opts:    opts,
		brk:     newBreaker(opts.Clock),
		items:   make(map[string]*model.CapturedItem),
	}
}

// NewTab opens a tab, enables the event domains (retry-wrapped), applies
// the locale/timezone fingerprint best-effort, and starts consuming events.
func (s *Session) NewTab(ctx context.Context) (Tab, error) {
	t, err := s.browser.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	if err := withRetry(ctx, func() error { return t.EnableDomains(ctx) }); err != nil {
		_ = t.Close()
		return nil, err
	}
	// Fidelity, not correctness: failures here are logged and swallowed.
	if s.opts.Locale != "" {
		if err := t.SetExtraHeaders(ctx, map[string]string{"Accept-Language": s.opts.Locale}); err != nil {
			s.opts.Log.Warn().Err(err).Msg("accept-language override failed")
		}
	}
	if s.opts.Timezone != "" {
		if err := t.SetTimezone(ctx, s.opts.Timezone); err != nil {
			s.opts.Log.Warn().Err(err).Msg("timezone override failed")
		}
	}
	s.tabs = append(s.tabs, t)
	s.pumps.Add(1)
	go s.consume(t)
	return t, nil
}

func (s *Session) consume(t Tab) {
	defer s.pumps.Done()
	for ev := range t.Events() {
		s.handle(t, ev)
	}
}

func (s *Session) handle(t Tab, ev model.NetEvent) {
	switch ev.Type {
	case model.EventRequestSent:
		s.brk.touchActivity()
		if ev.RequestID == "" || !s.opts.Filter.Match(ev.URL) {
			return
		}
		s.mu.Lock()
		if _, dup := s.items[ev.RequestID]; !dup {
			s.items[ev.RequestID] = &model.CapturedItem{
				RequestID: ev.RequestID,
				URL:       ev.URL,
				Headers:   map[string]string{},
			}
			s.order = append(s.order, ev.RequestID)
		}
		s.mu.Unlock()
		s.brk.touchMatch()

	case model.EventResponseReceived:
		s.brk.touchActivity()
		s.mu.Lock()
		if it, ok := s.items[ev.RequestID]; ok {
			status := ev.Status
			it.Status = &status
			it.Headers = ev.Headers
		}
		s.mu.Unlock()
		// A blocking status anywhere is block evidence, tracked or not: a
		// block wall answers the document request, which the API filter
		// never matches.
		if ev.Status == 403 || ev.Status == 429 {
			s.brk.markBlockedStatus()
		}

	case model.EventLoadingFinished:
		s.brk.touchActivity()
		s.mu.Lock()
		_, ok := s.items[ev.RequestID]
		s.mu.Unlock()
		if !ok {
			return
		}
		s.fetchBody(t, ev.RequestID)
		s.brk.touchMatch()

	case model.EventFrameNavigated:
		if s.opts.BlockFilter.Match(ev.URL) {
			s.brk.markBlockedURL(ev.URL)
		}
	}
}

// fetchBody pulls the response body through the transport, retry-wrapped.
// Failure after retries keeps the item with a nil body; missing-body items
// still survive to export.
func (s *Session) fetchBody(t Tab, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), bodyFetchTimeout)
	defer cancel()
	var body string
	var b64 bool
	err := withRetry(ctx, func() error {
		var err error
		body, b64, err = t.GetResponseBody(ctx, requestID)
		return err
	})
	if err != nil {
		s.opts.Log.Warn().Err(err).Str("requestID", requestID).Msg("response body fetch failed")
		return
	}
	s.mu.Lock()
	if it, ok := s.items[requestID]; ok {
		it.Body = &body
		it.Base64Encoded = b64
	}
	s.mu.Unlock()
}

// ShouldTrip evaluates the circuit breaker; nil means healthy.
func (s *Session) ShouldTrip(window time.Duration) *TripError {
	return s.brk.shouldTrip(window)
}

// ItemCount reports the number of tracked items so far.
func (s *Session) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Blocks reports how many blocking status codes were observed.
func (s *Session) Blocks() int { return s.brk.blocks() }

// DumpItemsJSONL serializes every tracked item, complete or not, one JSON
// record per line in insertion order. Returns the count written.
func (s *Session) DumpItemsJSONL(path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	s.mu.Lock()
	records := make([]model.CaptureRecord, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, s.items[id].Record())
	}
	s.mu.Unlock()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return 0, err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Close tears down every tab and waits for the event pumps to drain.
func (s *Session) Close() error {
	var first error
	for _, t := range s.tabs {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.pumps.Wait()
	if err := s.browser.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
