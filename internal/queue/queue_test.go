package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopcap/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "tasks"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestStoreAddAndLoad(t *testing.T) {
	s := newTestStore(t)

	task, err := s.Add(model.KindSearch, map[string]any{"keyword": "ração", "pages": 3}, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.TaskPending, task.Status)
	assert.Equal(t, 0, task.Attempts)
	assert.Equal(t, 2, task.MaxAttempts)
	assert.NotZero(t, task.CreatedTS)

	// The on-disk record is complete, valid JSON.
	data, err := os.ReadFile(filepath.Join(s.dir, task.ID+".json"))
	require.NoError(t, err)
	var onDisk model.Task
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, task.ID, onDisk.ID)
	assert.Equal(t, "ração", onDisk.Params["keyword"])
	assert.EqualValues(t, 3, onDisk.Params["pages"].(float64))

	tasks, err := s.Load("")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)

	none, err := s.Load(model.TaskCompleted)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreCoercesMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Add(model.KindEnrich, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, task.MaxAttempts)
}

func TestStoreSkipsCorruptRecords(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(model.KindSearch, map[string]any{"keyword": "x"}, 1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "junk.json"), []byte("{not json"), 0o644))

	tasks, err := s.Load("")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestRunnerCompletesTask(t *testing.T) {
	s := newTestStore(t)
	r := NewRunner(s, nil, zerolog.Nop())
	r.Register("echo", func(_ context.Context, task *model.Task) error {
		task.Result["keyword"] = ParamString(task, "keyword", "")
		return nil
	})

	_, err := s.Add("echo", map[string]any{"keyword": "gato"}, 2)
	require.NoError(t, err)

	n, err := r.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := s.Load("")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	done := tasks[0]
	assert.Equal(t, model.TaskCompleted, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.Nil(t, done.Error)
	assert.Equal(t, "gato", done.Result["keyword"])
	assert.Contains(t, done.Result, "duration_s")
}

func TestRunnerRequeuesUntilAttemptsExhausted(t *testing.T) {
	s := newTestStore(t)
	r := NewRunner(s, nil, zerolog.Nop())
	r.Register("boom", func(context.Context, *model.Task) error {
		return errors.New("browser unreachable")
	})

	_, err := s.Add("boom", nil, 2)
	require.NoError(t, err)

	// First sweep: one failed attempt, requeued.
	n, err := r.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := s.Load("")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskPending, tasks[0].Status)
	assert.Equal(t, 1, tasks[0].Attempts)
	require.NotNil(t, tasks[0].Error)
	assert.Equal(t, "browser unreachable", *tasks[0].Error)

	// Second sweep: attempts reach the cap, the task fails for good.
	n, err = r.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err = s.Load("")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskFailed, tasks[0].Status)
	assert.Equal(t, 2, tasks[0].Attempts)

	// Third sweep: nothing left to do.
	n, err = r.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunnerUnknownKindFails(t *testing.T) {
	s := newTestStore(t)
	r := NewRunner(s, nil, zerolog.Nop())

	_, err := s.Add("no_such_kind", nil, 1)
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	tasks, err := s.Load(model.TaskFailed)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].Error)
	assert.Contains(t, *tasks[0].Error, "unknown task kind")
}

func TestRunnerRespectsMaxTasks(t *testing.T) {
	s := newTestStore(t)
	r := NewRunner(s, nil, zerolog.Nop())
	ran := 0
	r.Register("count", func(context.Context, *model.Task) error {
		ran++
		return nil
	})

	for i := 0; i < 3; i++ {
		_, err := s.Add("count", nil, 1)
		require.NoError(t, err)
	}

	n, err := r.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, ran)

	left, err := s.Load(model.TaskPending)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestRunnerSkipsTasksEnqueuedMidSweep(t *testing.T) {
	s := newTestStore(t)
	r := NewRunner(s, nil, zerolog.Nop())
	r.Register("spawn", func(context.Context, *model.Task) error {
		_, err := s.Add("spawn", nil, 1)
		return err
	})

	_, err := s.Add("spawn", nil, 1)
	require.NoError(t, err)

	n, err := r.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "tasks enqueued mid-sweep wait for the next sweep")

	pending, err := s.Load(model.TaskPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	s := newTestStore(t)
	r := NewRunner(s, nil, zerolog.Nop())
	r.Register("noop", func(context.Context, *model.Task) error { return nil })

	_, err := s.Add("noop", nil, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.RunOnce(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParamAccessors(t *testing.T) {
	task := &model.Task{Params: map[string]any{
		"keyword":   "gato",
		"pages":     float64(3), // what JSON decoding produces
		"timeout_s": float64(7.5),
		"export":    true,
	}}

	assert.Equal(t, "gato", ParamString(task, "keyword", "d"))
	assert.Equal(t, "d", ParamString(task, "missing", "d"))
	assert.Equal(t, 3, ParamInt(task, "pages", 1))
	assert.Equal(t, 1, ParamInt(task, "missing", 1))
	assert.Equal(t, 7.5, ParamFloat(task, "timeout_s", 20))
	assert.Equal(t, 20.0, ParamFloat(task, "missing", 20))
	assert.True(t, ParamBool(task, "export", false))
	assert.False(t, ParamBool(task, "missing", false))
}
