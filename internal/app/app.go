// Package app is the composition root: it wires config, logging, the event
// sink, the scheduler, the exporter, the catalog and the task queue, and
// binds the queue's task kinds to capture operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"shopcap/internal/capture"
	"shopcap/internal/catalog"
	"shopcap/internal/config"
	"shopcap/internal/export"
	"shopcap/internal/logger"
	"shopcap/internal/queue"
	"shopcap/pkg/model"
)

// App owns the long-lived collaborators of one process.
type App struct {
	Cfg     *config.Config
	Log     zerolog.Logger
	Events  *logger.EventSink
	Sched   *capture.Scheduler
	Exp     *export.Exporter
	Store   *queue.Store
	Runner  *queue.Runner
	Catalog *catalog.Catalog
}

// New builds the full pipeline. The catalog is optional: a failure to open
// it degrades to no history, not a startup error.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	events := logger.NewEventSink(cfg.EventLogPath(), cfg.Profile, cfg.ProxyURL)
	status := capture.NewStatusSink(cfg.StatusDir(), cfg.Profile)

	var recorder capture.RunRecorder
	cat, err := catalog.Open(cfg.CatalogDSN(), cfg.Profile, cfg.ProxyURL)
	if err != nil {
		log.Warn().Err(err).Msg("capture catalog unavailable")
	} else {
		recorder = cat
	}

	dial := capture.DevToolsDialer(cfg.CDPPort)
	sched := capture.NewScheduler(cfg, dial, events, status, recorder, log)
	exp := export.New(cfg.DataDir, cfg.Domain, log)

	store, err := queue.NewStore(cfg.QueueDir(), log)
	if err != nil {
		return nil, err
	}
	runner := queue.NewRunner(store, events, log)

	a := &App{
		Cfg:     cfg,
		Log:     log,
		Events:  events,
		Sched:   sched,
		Exp:     exp,
		Store:   store,
		Runner:  runner,
		Catalog: cat,
	}
	runner.Register(model.KindSearch, a.runSearchTask)
	runner.Register(model.KindSearchAll, a.runSearchAllTask)
	runner.Register(model.KindEnrich, a.runEnrichTask)
	return a, nil
}

// Close flushes the event sink.
func (a *App) Close() error { return a.Events.Close() }

// PDPFilter is the capture filter for product detail pages.
func (a *App) PDPFilter() (*capture.Filter, error) {
	patterns := capture.DefaultPDPPatterns
	if len(a.Cfg.PDPPatterns) > 0 {
		patterns = a.Cfg.PDPPatterns
	}
	return capture.NewFilter(patterns)
}

// SearchFilter is the capture filter for search listing pages.
func (a *App) SearchFilter() (*capture.Filter, error) {
	patterns := capture.DefaultSearchPatterns
	if len(a.Cfg.SearchPatterns) > 0 {
		patterns = a.Cfg.SearchPatterns
	}
	return capture.NewFilter(patterns)
}

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// SearchCapture captures one or more search result pages for a keyword and
// returns the raw JSONL path and record count.
func (a *App) SearchCapture(ctx context.Context, keyword string, startPage, pages int, timeout time.Duration) (string, int, error) {
	filter, err := a.SearchFilter()
	if err != nil {
		return "", 0, err
	}
	urls := capture.BuildSearchURLs(a.Cfg.Domain, keyword, startPage, pages)
	if len(urls) == 1 {
		return a.Sched.CaptureOnce(ctx, urls[0], timeout, filter, "cdp_search")
	}
	return a.Sched.CaptureBatch(ctx, urls, capture.BatchOptions{
		Timeout: timeout,
		Pause:   secs(a.Cfg.PauseS),
		Filter:  filter,
		Prefix:  "cdp_search",
	})
}

// PDPCapture captures a single product page.
func (a *App) PDPCapture(ctx context.Context, url string, timeout time.Duration) (string, int, error) {
	filter, err := a.PDPFilter()
	if err != nil {
		return "", 0, err
	}
	return a.Sched.CaptureOnce(ctx, url, timeout, filter, "cdp_pdp")
}

// PDPBatch captures many product pages, serially or concurrently.
func (a *App) PDPBatch(ctx context.Context, urls []string, timeout time.Duration, concurrency int, stagger, pause time.Duration, obs capture.ProgressObserver) (string, int, error) {
	filter, err := a.PDPFilter()
	if err != nil {
		return "", 0, err
	}
	opts := capture.BatchOptions{
		Timeout:     timeout,
		Pause:       pause,
		Stagger:     stagger,
		Concurrency: concurrency,
		Filter:      filter,
		Prefix:      "cdp_pdp",
		Observer:    obs,
	}
	if concurrency > 1 {
		return a.Sched.CaptureBatchConcurrent(ctx, urls, opts)
	}
	return a.Sched.CaptureBatch(ctx, urls, opts)
}

func (a *App) runSearchTask(ctx context.Context, t *model.Task) error {
	keyword := queue.ParamString(t, "keyword", "")
	if keyword == "" {
		return errors.New("missing required param: keyword")
	}
	timeout := secs(queue.ParamFloat(t, "timeout_s", 20))
	pages := queue.ParamInt(t, "pages", 1)
	startPage := queue.ParamInt(t, "start_page", 0)

	jsonl, n, err := a.SearchCapture(ctx, keyword, startPage, pages, timeout)
	if jsonl != "" {
		t.Result["jsonl"] = jsonl
		t.Result["captured"] = n
	}
	if err != nil {
		return err
	}
	if queue.ParamBool(t, "auto_export", true) {
		jsonOut, csvOut, rows, err := a.Exp.SearchFromJSONL(jsonl)
		if err != nil {
			return err
		}
		t.Result["export_json"] = jsonOut
		t.Result["export_csv"] = csvOut
		t.Result["export_count"] = len(rows)
	}
	return nil
}

func (a *App) runSearchAllTask(ctx context.Context, t *model.Task) error {
	keyword := queue.ParamString(t, "keyword", "")
	if keyword == "" {
		return errors.New("missing required param: keyword")
	}
	timeout := secs(queue.ParamFloat(t, "timeout_s", 10))
	startPage := queue.ParamInt(t, "start_page", 0)
	maxPages := queue.ParamInt(t, "max_pages", 100)

	jsonl, n, err := a.SearchCapture(ctx, keyword, startPage, maxPages, timeout)
	if jsonl != "" {
		t.Result["jsonl"] = jsonl
		t.Result["captured"] = n
	}
	if err != nil {
		return err
	}
	if queue.ParamBool(t, "auto_export", true) {
		jsonOut, csvOut, rows, err := a.Exp.SearchFromJSONL(jsonl)
		if err != nil {
			return err
		}
		t.Result["export_json"] = jsonOut
		t.Result["export_csv"] = csvOut
		t.Result["export_count"] = len(rows)
	}
	return nil
}

// runEnrichTask walks a prior search export through PDP batch capture and
// merges the detail fields back onto the search rows.
func (a *App) runEnrichTask(ctx context.Context, t *model.Task) error {
	inputPath := queue.ParamString(t, "input_path", "")
	if inputPath == "" {
		latest, err := export.LatestSearchExport(a.Cfg.DataDir)
		if err != nil {
			return err
		}
		inputPath = latest
	}
	searchRows, err := export.LoadRows(inputPath)
	if err != nil {
		return err
	}
	urls := export.URLs(searchRows)
	if len(urls) == 0 {
		return fmt.Errorf("no product URLs in search export %s", inputPath)
	}

	timeout := secs(queue.ParamFloat(t, "timeout_s", 8))
	pause := secs(queue.ParamFloat(t, "pause_s", 0.5))
	stagger := secs(queue.ParamFloat(t, "stagger_s", 1))
	concurrency := queue.ParamInt(t, "concurrency", 0)

	jsonl, n, err := a.PDPBatch(ctx, urls, timeout, concurrency, stagger, pause, nil)
	if jsonl != "" {
		t.Result["jsonl"] = jsonl
		t.Result["captured"] = n
	}
	if err != nil {
		return err
	}

	jsonOut, csvOut, pdpRows, err := a.Exp.PDPFromJSONL(jsonl)
	if err != nil {
		return err
	}
	t.Result["export_json"] = jsonOut
	t.Result["export_csv"] = csvOut
	t.Result["export_count"] = len(pdpRows)

	enrJSON, enrCSV, merged, err := a.Exp.Enrich(searchRows, pdpRows, inputPath)
	if err != nil {
		return err
	}
	t.Result["enriched_json"] = enrJSON
	t.Result["enriched_csv"] = enrCSV
	t.Result["enriched_count"] = len(merged)
	return nil
}
