package logger

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventSink emits structured JSONL events into a rotating log file. Every
// record carries event, ts (epoch seconds), profile and proxy, so the
// metrics aggregator can bucket records without extra context.
type EventSink struct {
	log     zerolog.Logger
	profile string
	proxy   string
	closer  *lumberjack.Logger
}

// NewEventSink opens (or creates) the JSONL sink at path.
func NewEventSink(path, profile, proxy string) *EventSink {
	w := &lumberjack.Logger{
		Filename:   filepath.Clean(path),
		MaxSize:    100, // MB
		MaxBackups: 10,
	}
	return &EventSink{
		log:     zerolog.New(w),
		profile: profile,
		proxy:   proxy,
		closer:  w,
	}
}

// Emit writes one event record. Fields must be JSON-serializable.
func (s *EventSink) Emit(event string, fields map[string]any) {
	if s == nil {
		return
	}
	e := s.log.Log().
		Str("event", event).
		Int64("ts", time.Now().Unix()).
		Str("profile", s.profile)
	if s.proxy != "" {
		e = e.Str("proxy", s.proxy)
	}
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Send()
}

// Close flushes and closes the underlying file.
func (s *EventSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
