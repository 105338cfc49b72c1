// Package queue is a durable, file-backed queue of long-running capture
// jobs. One JSON file per task; every state transition is persisted via
// atomic replace so a reader never observes a half-written record. A single
// sequential runner is the only supported configuration.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shopcap/internal/fsutil"
	"shopcap/pkg/model"
)

// Store owns the task directory.
type Store struct {
	dir string
	log zerolog.Logger
}

// NewStore opens (creating if needed) the task directory.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Add enqueues a new pending task.
func (s *Store) Add(kind string, params map[string]any, maxAttempts int) (*model.Task, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	now := time.Now().Unix()
	t := &model.Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Params:      params,
		Status:      model.TaskPending,
		MaxAttempts: maxAttempts,
		CreatedTS:   now,
		UpdatedTS:   now,
		Result:      map[string]any{},
	}
	if err := s.Save(t); err != nil {
		return nil, err
	}
	s.log.Info().Str("id", t.ID).Str("kind", kind).Msg("task enqueued")
	return t, nil
}

// Save persists a task atomically, refreshing updated_ts.
func (s *Store) Save(t *model.Task) error {
	t.UpdatedTS = time.Now().Unix()
	return fsutil.WriteJSONAtomic(s.path(t.ID), t)
}

// Load returns tasks in filename order, optionally filtered by status.
// Unreadable records are skipped.
func (s *Store) Load(statusFilter model.TaskStatus) ([]*model.Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*model.Task
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var t model.Task
		if err := json.Unmarshal(data, &t); err != nil || t.ID == "" {
			continue
		}
		if statusFilter != "" && t.Status != statusFilter {
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}
