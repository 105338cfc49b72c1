package model

// EventType tags the network event shapes delivered by the browser
// transport. Unknown shapes are dropped at the transport boundary and never
// reach the session.
type EventType string

const (
	EventRequestSent      EventType = "requestWillBeSent"
	EventResponseReceived EventType = "responseReceived"
	EventLoadingFinished  EventType = "loadingFinished"
	EventFrameNavigated   EventType = "frameNavigated"
)

// NetEvent is the neutral form of one transport event. Fields beyond
// RequestID are populated per type: URL for request-sent and
// frame-navigated, Status/Headers for response-received.
type NetEvent struct {
	Type      EventType
	RequestID string
	URL       string
	Status    int
	Headers   map[string]string
}

// CapturedItem is one intercepted network exchange. Created on request-sent
// when the URL matches the active filter, then mutated in place as the
// response and body arrive. Owned by its capture session until dumped.
type CapturedItem struct {
	RequestID     string
	URL           string
	Status        *int
	Headers       map[string]string
	Body          *string
	Base64Encoded bool
}

// CaptureRecord is the JSONL wire form of a CapturedItem.
type CaptureRecord struct {
	URL     string            `json:"url"`
	Status  *int              `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body"`
	Base64  bool              `json:"base64"`
}

// Record converts an item to its persisted form.
func (it *CapturedItem) Record() CaptureRecord {
	return CaptureRecord{
		URL:     it.URL,
		Status:  it.Status,
		Headers: it.Headers,
		Body:    it.Body,
		Base64:  it.Base64Encoded,
	}
}

// TaskStatus is the durable task state machine:
// pending → running → {completed | pending | failed}.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task kinds dispatched by the queue runner.
const (
	KindSearch    = "cdp_search"
	KindSearchAll = "cdp_search_all"
	KindEnrich    = "cdp_enrich"
)

// Task is a durable unit of scheduled work, one JSON file per task.
type Task struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Params      map[string]any `json:"params"`
	Status      TaskStatus     `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	CreatedTS   int64          `json:"created_ts"`
	UpdatedTS   int64          `json:"updated_ts"`
	Result      map[string]any `json:"result"`
	Error       *string        `json:"error"`
}

// ProgressEvent is the observational payload handed to a ProgressObserver.
// Stage is one of "start", "done", "batch_done".
type ProgressEvent struct {
	Stage string
	Index int
	Total int
	URL   string
	Slot  int
	Batch int
}

// StatusRecord is the per-profile session-status sink record, written when
// a capture ends degraded or a circuit trips.
type StatusRecord struct {
	Profile string `json:"profile"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	TS      int64  `json:"ts"`
}

// Structured event names consumed by the metrics aggregator.
const (
	EvCaptureSummary = "cdp_capture_summary"
	EvCircuitTrip    = "circuit_trip"
	EvTaskStart      = "queue_task_start"
	EvTaskDone       = "queue_task_done"
	EvTaskError      = "queue_task_error"
)
