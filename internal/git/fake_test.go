// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package git

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeScriptedDiff(t *testing.T) {
	f := NewFake(t.TempDir())
	ctx := context.Background()

	dirty, err := f.UncommittedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	f.SetDiff("+added line\n")
	dirty, err = f.UncommittedChanges(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)

	diff, err := f.Diff(ctx)
	require.NoError(t, err)
	assert.Equal(t, "+added line\n", diff)

	status, err := f.Status(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, status)
}

func TestFakeCommitAllAdvancesRevision(t *testing.T) {
	f := NewFake(t.TempDir())
	ctx := context.Background()

	initial, err := f.LastRevision(ctx)
	require.NoError(t, err)

	// A clean tree commits nothing.
	rev, err := f.CommitAll(ctx, "noop")
	require.NoError(t, err)
	assert.Equal(t, initial, rev)
	assert.Empty(t, f.Commits())

	f.SetDiff("+change\n")
	rev, err = f.CommitAll(ctx, "apply change")
	require.NoError(t, err)
	assert.NotEqual(t, initial, rev)
	assert.Equal(t, []string{"apply change"}, f.Commits())

	dirty, err := f.UncommittedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestFakeResetHardAll(t *testing.T) {
	f := NewFake(t.TempDir())
	ctx := context.Background()

	f.SetDiff("+junk\n")
	require.NoError(t, f.ResetHardAll(ctx))

	dirty, err := f.UncommittedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
	diff, err := f.Diff(ctx)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestFakeInDirSharesState(t *testing.T) {
	f := NewFake("/repo")
	ctx := context.Background()

	view := f.InDir("/repo/worktrees/wv-0")
	assert.Equal(t, "/repo/worktrees/wv-0", view.Dir())
	assert.Equal(t, "/repo", f.Dir())

	f.SetDiff("+change\n")
	_, err := view.CommitAll(ctx, "committed through the view")
	require.NoError(t, err)
	assert.Equal(t, []string{"committed through the view"}, f.Commits())

	rootRev, err := f.LastRevision(ctx)
	require.NoError(t, err)
	viewRev, err := view.LastRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, rootRev, viewRev)
}

func TestFakeCreateWorktree(t *testing.T) {
	f := NewFake("/repo")
	ctx := context.Background()

	require.NoError(t, f.CreateWorktree(ctx, "/repo/wt/wv-0", "wv-0", ""))
	assert.Equal(t, map[string]string{"/repo/wt/wv-0": "wv-0"}, f.Worktrees())

	err := f.CreateWorktree(ctx, "/repo/wt/bad", "-bad", "")
	require.Error(t, err)
}
