package capture

import (
	"path/filepath"
	"time"

	"shopcap/internal/fsutil"
	"shopcap/pkg/model"
)

// StatusSink records the last degraded/blocked state per profile, one file
// per profile, replaced atomically.
type StatusSink struct {
	dir     string
	profile string
}

// NewStatusSink writes records for profile under dir.
func NewStatusSink(dir, profile string) *StatusSink {
	return &StatusSink{dir: dir, profile: profile}
}

// Write persists a status record. Best-effort from the caller's point of
// view; the error is surfaced so callers can log it.
func (s *StatusSink) Write(status, reason string) error {
	if s == nil {
		return nil
	}
	rec := model.StatusRecord{
		Profile: s.profile,
		Status:  status,
		Reason:  reason,
		TS:      time.Now().Unix(),
	}
	return fsutil.WriteJSONAtomic(filepath.Join(s.dir, s.profile+".json"), rec)
}
