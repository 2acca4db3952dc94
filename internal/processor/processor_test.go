// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/weaver/internal/config"
	"github.com/noldarim/weaver/internal/models"
	"github.com/noldarim/weaver/internal/session"
	"github.com/noldarim/weaver/internal/store"
)

type procEnv struct {
	store   *store.Store
	session *session.Session
	records *store.Records
}

func newProcEnv(t *testing.T) *procEnv {
	t.Helper()
	st, err := store.Open(store.Config{
		Dir:        t.TempDir(),
		DBFilename: "weaver.sqlite3",
		Records: []store.RecordDef{{
			Name:    "item",
			Columns: []store.Column{store.String("attr")},
		}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sess := session.New(config.SessionConfig{Project: "proj", RunID: "run-1"}, st)
	return &procEnv{store: st, session: sess, records: st.MustRecords("item")}
}

func (e *procEnv) workspaces(t *testing.T, n int) []*models.Workspace {
	t.Helper()
	out := make([]*models.Workspace, n)
	for i := range out {
		ws, err := e.store.FindOrCreateWorkspace(context.Background(), t.TempDir(), nil)
		require.NoError(t, err)
		out[i] = ws
	}
	return out
}

func (e *procEnv) addTask(t *testing.T, p *Processor, handler string) *models.Task {
	t.Helper()
	rec, err := e.records.Create(map[string]any{"attr": "x"})
	require.NoError(t, err)
	task, err := p.AddTask(context.Background(), rec, handler)
	require.NoError(t, err)
	return task
}

// doneHandler resolves the task immediately.
func doneHandler(st *store.Store) Handler {
	return func(ctx context.Context, task *models.Task, ws *models.Workspace) error {
		task.MarkDone()
		return st.SaveTask(ctx, task)
	}
}

func TestAddTaskIdempotent(t *testing.T) {
	env := newProcEnv(t)
	p := New(env.store, env.session, env.workspaces(t, 1))
	p.Register("process", doneHandler(env.store))

	rec, err := env.records.Create(map[string]any{"attr": "x"})
	require.NoError(t, err)

	first, err := p.AddTask(context.Background(), rec, "process")
	require.NoError(t, err)
	second, err := p.AddTask(context.Background(), rec, "process")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	tasks, err := env.store.AllTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestAddTaskUnknownHandler(t *testing.T) {
	env := newProcEnv(t)
	p := New(env.store, env.session, env.workspaces(t, 1))

	rec, err := env.records.Create(map[string]any{"attr": "x"})
	require.NoError(t, err)
	_, err = p.AddTask(context.Background(), rec, "never registered")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown handler")
}

func TestCallRequiresWorkspaces(t *testing.T) {
	env := newProcEnv(t)
	p := New(env.store, env.session, nil)
	err := p.Call(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one workspace")
}

func TestCallDrainsQueue(t *testing.T) {
	env := newProcEnv(t)
	p := New(env.store, env.session, env.workspaces(t, 1))
	p.Register("process", doneHandler(env.store))

	for i := 0; i < 3; i++ {
		env.addTask(t, p, "process")
	}
	afterEach := 0
	require.NoError(t, p.Call(context.Background(), func() { afterEach++ }))

	done, err := env.store.CountTasksByStatus(context.Background(), models.TaskStatusDone)
	require.NoError(t, err)
	assert.EqualValues(t, 3, done)
	assert.Equal(t, 3, afterEach)
}

func TestCallRejectsUnresolvedTasks(t *testing.T) {
	env := newProcEnv(t)
	p := New(env.store, env.session, env.workspaces(t, 1))
	p.Register("lazy", func(ctx context.Context, task *models.Task, ws *models.Workspace) error {
		return nil
	})
	env.addTask(t, p, "lazy")

	err := p.Call(context.Background(), nil)
	require.ErrorIs(t, err, ErrTaskPending)
}

func TestCallParallelWorkspaces(t *testing.T) {
	env := newProcEnv(t)
	workspaces := env.workspaces(t, 2)
	p := New(env.store, env.session, workspaces)

	var mu sync.Mutex
	seen := map[uint]int{}
	p.Register("slow", func(ctx context.Context, task *models.Task, ws *models.Workspace) error {
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		seen[ws.ID]++
		mu.Unlock()
		task.MarkDone()
		return env.store.SaveTask(ctx, task)
	})
	env.addTask(t, p, "slow")
	env.addTask(t, p, "slow")

	start := time.Now()
	require.NoError(t, p.Call(context.Background(), nil))
	elapsed := time.Since(start)

	// Two 100ms tasks across two workspaces must overlap.
	assert.Less(t, elapsed, 200*time.Millisecond)
	assert.Len(t, seen, 2)
}

func TestAbortStopsBetweenTasks(t *testing.T) {
	env := newProcEnv(t)
	p := New(env.store, env.session, env.workspaces(t, 1))
	p.Register("process", func(ctx context.Context, task *models.Task, ws *models.Workspace) error {
		p.Abort()
		task.MarkDone()
		return env.store.SaveTask(ctx, task)
	})
	env.addTask(t, p, "process")
	env.addTask(t, p, "process")

	require.NoError(t, p.Call(context.Background(), nil))
	assert.True(t, p.Aborted())

	pending, err := env.store.CountTasksByStatus(context.Background(), models.TaskStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}

func TestFirstErrorAbortsTheSet(t *testing.T) {
	env := newProcEnv(t)
	workspaces := env.workspaces(t, 2)
	p := New(env.store, env.session, workspaces)

	boom := errors.New("handler infrastructure failure")
	p.Register("failing", func(ctx context.Context, task *models.Task, ws *models.Workspace) error {
		return boom
	})
	env.addTask(t, p, "failing")
	env.addTask(t, p, "failing")

	err := p.Call(context.Background(), nil)
	require.ErrorIs(t, err, boom)
	assert.True(t, p.Aborted())
}

func TestCallHonorsContextCancellation(t *testing.T) {
	env := newProcEnv(t)
	p := New(env.store, env.session, env.workspaces(t, 1))
	p.Register("process", doneHandler(env.store))
	env.addTask(t, p, "process")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Call(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}
