// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/weaver/internal/config"
	"github.com/noldarim/weaver/internal/git"
	"github.com/noldarim/weaver/internal/models"
	"github.com/noldarim/weaver/internal/pipeline"
	"github.com/noldarim/weaver/internal/session"
	"github.com/noldarim/weaver/internal/store"
)

func batchStore(t *testing.T) *store.Store {
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
	return st
}

func batchSession(t *testing.T, st *store.Store) *session.Session {
	t.Helper()
	return session.New(config.SessionConfig{
		Project:             "proj",
		RunID:               "run-1",
		DefaultWorkspaceDir: t.TempDir(),
	}, st)
}

func noopFamily() *pipeline.Family {
	return pipeline.New("item", nil).
		Step("work", func(c *pipeline.StepContext) error { return nil })
}

func TestReportEmptyStore(t *testing.T) {
	st := batchStore(t)
	b, err := New(context.Background(), Config{
		Store:      st,
		Session:    batchSession(t, st),
		Family:     noopFamily(),
		RecordType: "item",
	})
	require.NoError(t, err)

	report, err := b.Report(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report, "Total: 0\nSucceeded: 0\nPending: 0\nFailed: 0\n")
	assert.NotContains(t, report, "Time:")
	assert.Contains(t, report, "Worktrees: 1\n")
	assert.Contains(t, report, "Run cost: $0.00\n")
	assert.Contains(t, report, "Project total cost: $0.00\n")
	assert.NotContains(t, report, "failed task")
}

func TestBatchDrainsTasksAcrossWorkspaceDirs(t *testing.T) {
	ctx := context.Background()
	st := batchStore(t)
	b, err := New(ctx, Config{
		Store:         st,
		Session:       batchSession(t, st),
		WorkspaceDirs: []string{t.TempDir(), t.TempDir()},
		Family:        noopFamily(),
		RecordType:    "item",
	})
	require.NoError(t, err)
	require.Len(t, b.Workspaces(), 2)

	records := st.MustRecords("item")
	for i := 0; i < 2; i++ {
		rec, err := records.Create(map[string]any{"attr": fmt.Sprintf("v%d", i)})
		require.NoError(t, err)
		_, err = b.AddTask(ctx, rec)
		require.NoError(t, err)
	}

	require.NoError(t, b.Call(ctx, nil))

	report, err := b.Report(ctx)
	require.NoError(t, err)
	assert.Contains(t, report, "Total: 2\nSucceeded: 2\nPending: 0\nFailed: 0\n")
	assert.Contains(t, report, "Time: 0 hrs, 0 mins, 0 secs\n")
	assert.Contains(t, report, "Worktrees: 2\n")
	assert.Contains(t, report, "Cost per task: $0.00\n")
	assert.Contains(t, report, "Minutes per task: 0.00\n")
}

func TestBatchAddTaskIdempotent(t *testing.T) {
	ctx := context.Background()
	st := batchStore(t)
	b, err := New(ctx, Config{
		Store:      st,
		Session:    batchSession(t, st),
		Family:     noopFamily(),
		RecordType: "item",
	})
	require.NoError(t, err)

	rec, err := st.MustRecords("item").Create(map[string]any{"attr": "x"})
	require.NoError(t, err)
	first, err := b.AddTask(ctx, rec)
	require.NoError(t, err)
	second, err := b.AddTask(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestWorktreeProvisioning(t *testing.T) {
	ctx := context.Background()
	st := batchStore(t)
	fake := git.NewFake(t.TempDir())
	root := t.TempDir()

	b, err := New(ctx, Config{
		Store:   st,
		Session: batchSession(t, st),
		Git:     fake,
		GitConfig: &config.GitConfig{
			WorktreeRoot:  root,
			BranchPrefix:  "wv",
			WorkingSubdir: "app",
			WorktreeEnvs: []map[string]string{
				{"PORT": "3001"},
				{"PORT": "3002"},
			},
		},
		Family:     noopFamily(),
		RecordType: "item",
	})
	require.NoError(t, err)

	require.Len(t, b.Workspaces(), 2)
	assert.Equal(t, filepath.Join(root, "wv-0", "app"), b.Workspaces()[0].Dir)
	assert.Equal(t, filepath.Join(root, "wv-1", "app"), b.Workspaces()[1].Dir)
	assert.Equal(t, "3001", b.Workspaces()[0].Env["PORT"])
	assert.Equal(t, "3002", b.Workspaces()[1].Env["PORT"])

	worktrees := fake.Worktrees()
	assert.Equal(t, "wv-0", worktrees[filepath.Join(root, "wv-0")])
	assert.Equal(t, "wv-1", worktrees[filepath.Join(root, "wv-1")])
}

func TestWorktreeProvisioningDefaultsToOneBranch(t *testing.T) {
	ctx := context.Background()
	st := batchStore(t)
	fake := git.NewFake(t.TempDir())
	root := t.TempDir()

	b, err := New(ctx, Config{
		Store:      st,
		Session:    batchSession(t, st),
		Git:        fake,
		GitConfig:  &config.GitConfig{WorktreeRoot: root},
		Family:     noopFamily(),
		RecordType: "item",
	})
	require.NoError(t, err)

	require.Len(t, b.Workspaces(), 1)
	assert.Equal(t, filepath.Join(root, "weaver-0"), b.Workspaces()[0].Dir)
}

func TestReportListsFirstFailedTasks(t *testing.T) {
	ctx := context.Background()
	st := batchStore(t)
	b, err := New(ctx, Config{
		Store:      st,
		Session:    batchSession(t, st),
		Family:     noopFamily(),
		RecordType: "item",
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		task := &models.Task{
			Status:       models.TaskStatusFailed,
			RecordType:   "item",
			RecordID:     uint(i + 1),
			Handler:      "item",
			ErrorMessage: fmt.Sprintf("failure %d", i),
		}
		require.NoError(t, st.CreateTask(ctx, task))
	}

	report, err := b.Report(ctx)
	require.NoError(t, err)
	assert.Contains(t, report, "Failed: 4\n")
	assert.Contains(t, report, "First 3 failed task(s):\n")
	assert.Contains(t, report, "- failure 0\n")
	assert.Contains(t, report, "- failure 2\n")
	assert.NotContains(t, report, "- failure 3\n")
}

func TestConfigValidation(t *testing.T) {
	ctx := context.Background()
	st := batchStore(t)
	sess := batchSession(t, st)
	family := noopFamily()

	_, err := New(ctx, Config{Store: st, Session: sess, RecordType: "item"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "family is required")

	_, err = New(ctx, Config{Store: st, Session: sess, Family: family})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record type is required")

	_, err = New(ctx, Config{Session: sess, Family: family, RecordType: "item"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of store")

	_, err = New(ctx, Config{
		Store:       st,
		StoreConfig: &store.Config{},
		Session:     sess,
		Family:      family,
		RecordType:  "item",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of store")

	_, err = New(ctx, Config{
		Store:         st,
		Session:       sess,
		Family:        family,
		RecordType:    "item",
		WorkspaceDirs: []string{t.TempDir()},
		GitConfig:     &config.GitConfig{WorktreeRoot: t.TempDir()},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}
