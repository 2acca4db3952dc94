// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package git is the boundary the pipeline runtime uses to observe and
// manipulate a workspace checkout. The engine never shells out to git
// directly; it sees only this interface.
package git

import "context"

// Git is the narrow set of repository operations the engine needs. An
// instance is bound to one working directory; InDir rebinds it for a
// provisioned worktree.
type Git interface {
	// CreateWorktree provisions a worktree of the bound repository at
	// dir, on the given branch, starting from revision. Idempotent:
	// recreates the worktree when dir already holds one.
	CreateWorktree(ctx context.Context, dir, branch, revision string) error

	// InDir returns a Git bound to another working directory.
	InDir(dir string) Git

	// Dir returns the bound working directory.
	Dir() string

	// Diff returns the full diff of the working tree against HEAD,
	// including untracked files.
	Diff(ctx context.Context) (string, error)

	// Status returns porcelain status output.
	Status(ctx context.Context) (string, error)

	// CommitAll stages everything and commits, returning the new HEAD
	// revision. A clean tree commits nothing and returns current HEAD.
	CommitAll(ctx context.Context, message string) (string, error)

	// LastRevision returns the HEAD commit hash.
	LastRevision(ctx context.Context) (string, error)

	// ResetHardAll discards all tracked changes and untracked files.
	ResetHardAll(ctx context.Context) error

	// UncommittedChanges reports whether the working tree is dirty.
	UncommittedChanges(ctx context.Context) (bool, error)
}
