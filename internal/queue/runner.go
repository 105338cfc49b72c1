package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"shopcap/internal/logger"
	"shopcap/pkg/model"
)

// Handler executes one task kind, filling t.Result on success.
type Handler func(ctx context.Context, t *model.Task) error

// Runner drains pending tasks strictly sequentially. Task-level retry is
// implicit requeue: a failed attempt below max_attempts goes back to
// pending with no backoff delay.
type Runner struct {
	store    *Store
	handlers map[string]Handler
	events   *logger.EventSink
	log      zerolog.Logger
}

// NewRunner builds a runner over the store. events may be nil.
func NewRunner(store *Store, events *logger.EventSink, log zerolog.Logger) *Runner {
	return &Runner{
		store:    store,
		handlers: make(map[string]Handler),
		events:   events,
		log:      log,
	}
}

// Register binds a task kind to its handler.
func (r *Runner) Register(kind string, h Handler) {
	r.handlers[kind] = h
}

// RunOnce executes the pending tasks discovered at sweep start, in order,
// capped to maxTasks when positive. Tasks enqueued mid-sweep wait for the
// next sweep. Returns the number of tasks attempted.
func (r *Runner) RunOnce(ctx context.Context, maxTasks int) (int, error) {
	pending, err := r.store.Load(model.TaskPending)
	if err != nil {
		return 0, err
	}
	if maxTasks > 0 && len(pending) > maxTasks {
		pending = pending[:maxTasks]
	}
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		r.runTask(ctx, t)
	}
	return len(pending), nil
}

func (r *Runner) runTask(ctx context.Context, t *model.Task) {
	t.Status = model.TaskRunning
	t.Attempts++
	if err := r.store.Save(t); err != nil {
		r.log.Error().Err(err).Str("id", t.ID).Msg("task persist failed")
		return
	}
	r.events.Emit(model.EvTaskStart, map[string]any{"id": t.ID, "kind": t.Kind})
	r.log.Info().Str("id", t.ID).Str("kind", t.Kind).Int("attempt", t.Attempts).Msg("task start")

	started := time.Now()
	err := r.Execute(ctx, t)
	if err == nil {
		t.Status = model.TaskCompleted
		t.Error = nil
		t.Result["duration_s"] = time.Since(started).Seconds()
		if err := r.store.Save(t); err != nil {
			r.log.Error().Err(err).Str("id", t.ID).Msg("task persist failed")
		}
		r.events.Emit(model.EvTaskDone, map[string]any{
			"id": t.ID, "kind": t.Kind, "status": string(t.Status), "result": t.Result,
		})
		r.log.Info().Str("id", t.ID).Msg("task completed")
		return
	}

	msg := err.Error()
	t.Error = &msg
	if t.Attempts >= t.MaxAttempts {
		t.Status = model.TaskFailed
	} else {
		t.Status = model.TaskPending // implicit requeue
	}
	if err := r.store.Save(t); err != nil {
		r.log.Error().Err(err).Str("id", t.ID).Msg("task persist failed")
	}
	r.events.Emit(model.EvTaskError, map[string]any{
		"id": t.ID, "kind": t.Kind, "error": msg,
		"attempts": t.Attempts, "status": string(t.Status),
	})
	r.log.Warn().Str("id", t.ID).Str("status", string(t.Status)).Msg("task attempt failed: " + msg)
}

// Execute runs a task body by kind without touching the store. Used by the
// sweep and by callers that want a one-off, non-durable run.
func (r *Runner) Execute(ctx context.Context, t *model.Task) error {
	h, ok := r.handlers[t.Kind]
	if !ok {
		return fmt.Errorf("unknown task kind: %s", t.Kind)
	}
	return h(ctx, t)
}
