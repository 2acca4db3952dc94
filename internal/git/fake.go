// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package git

import (
	"context"
	"fmt"
	"sync"
)

// fakeState is the mutable half of a Fake, shared between the root
// fake and every InDir view so commits land in one log.
type fakeState struct {
	mu        sync.Mutex
	diff      string
	dirty     bool
	revision  int
	commits   []string
	worktrees map[string]string // dir -> branch
}

// Fake is an in-memory Git for tests. Diff output and dirty state are
// scripted; commits append to a log and advance a fake revision.
type Fake struct {
	dir   string
	state *fakeState
}

// NewFake creates an empty fake bound to dir.
func NewFake(dir string) *Fake {
	return &Fake{dir: dir, state: &fakeState{worktrees: make(map[string]string)}}
}

// SetDiff scripts the diff output and marks the tree dirty when the
// diff is non-empty.
func (f *Fake) SetDiff(diff string) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.diff = diff
	f.state.dirty = diff != ""
}

// Commits returns the commit messages so far.
func (f *Fake) Commits() []string {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return append([]string(nil), f.state.commits...)
}

// Worktrees returns the provisioned dir -> branch mapping.
func (f *Fake) Worktrees() map[string]string {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	out := make(map[string]string, len(f.state.worktrees))
	for dir, branch := range f.state.worktrees {
		out[dir] = branch
	}
	return out
}

func (f *Fake) CreateWorktree(ctx context.Context, dir, branch, revision string) error {
	if err := validateBranchName(branch); err != nil {
		return err
	}
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.worktrees[dir] = branch
	return nil
}

// InDir returns a view on the same fake bound to another directory.
func (f *Fake) InDir(dir string) Git {
	return &Fake{dir: dir, state: f.state}
}

func (f *Fake) Dir() string {
	return f.dir
}

func (f *Fake) Diff(ctx context.Context) (string, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return f.state.diff, nil
}

func (f *Fake) Status(ctx context.Context) (string, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	if f.state.dirty {
		return " M scripted\n", nil
	}
	return "", nil
}

func (f *Fake) CommitAll(ctx context.Context, message string) (string, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	if f.state.dirty {
		f.state.commits = append(f.state.commits, message)
		f.state.revision++
		f.state.dirty = false
		f.state.diff = ""
	}
	return f.revisionString(), nil
}

func (f *Fake) LastRevision(ctx context.Context) (string, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return f.revisionString(), nil
}

func (f *Fake) ResetHardAll(ctx context.Context) error {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.dirty = false
	f.state.diff = ""
	return nil
}

func (f *Fake) UncommittedChanges(ctx context.Context) (bool, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return f.state.dirty, nil
}

// revisionString must be called with the state lock held.
func (f *Fake) revisionString() string {
	return fmt.Sprintf("%040d", f.state.revision)
}
