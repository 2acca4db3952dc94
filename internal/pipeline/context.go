// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"

	"github.com/noldarim/weaver/internal/git"
	"github.com/noldarim/weaver/internal/models"
	"github.com/noldarim/weaver/internal/session"
	"github.com/noldarim/weaver/internal/store"
)

// StepContext is the view a step body gets of its run: the record and
// task being processed, the transactional store handle, the bound
// workspace, the session, and the git boundary.
type StepContext struct {
	goCtx        context.Context
	family       *Family
	record       *store.Record
	task         *models.Task
	store        *store.Store
	workspace    *models.Workspace
	session      *session.Session
	git          git.Git
	rewindTarget string
}

// Context returns the cancellation context of the run.
func (c *StepContext) Context() context.Context { return c.goCtx }

// Record returns the record the task points at, bound to the current
// transaction.
func (c *StepContext) Record() *store.Record { return c.record }

// Task returns the task being processed.
func (c *StepContext) Task() *models.Task { return c.task }

// Store returns the transactional store handle.
func (c *StepContext) Store() *store.Store { return c.store }

// Workspace returns the workspace the task is bound to.
func (c *StepContext) Workspace() *models.Workspace { return c.workspace }

// Session returns the session.
func (c *StepContext) Session() *session.Session { return c.session }

// Git returns the git boundary bound to the workspace directory.
func (c *StepContext) Git() git.Git { return c.git }

// RewindTo requests that completed_steps be truncated to just before
// the named step. The truncation is applied by the execution loop
// after the body returns; a target not appearing exactly once in
// completed_steps fails the task.
func (c *StepContext) RewindTo(stepName string) {
	c.rewindTarget = stepName
}
