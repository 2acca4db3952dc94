// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package processor drains pending tasks across workspace slots. Each
// workspace runs the same drain loop; tasks are claimed and bound to a
// workspace in one store transaction, so no task runs twice.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/noldarim/weaver/internal/logger"
	"github.com/noldarim/weaver/internal/models"
	"github.com/noldarim/weaver/internal/session"
	"github.com/noldarim/weaver/internal/store"
)

// ErrTaskPending reports a handler that returned without resolving its
// task: the drain loop would claim it again forever.
var ErrTaskPending = errors.New("task is still pending after its handler ran")

// Handler processes one claimed task on one workspace.
type Handler func(ctx context.Context, task *models.Task, ws *models.Workspace) error

// Processor schedules pending tasks onto workspace slots.
type Processor struct {
	store      *store.Store
	session    *session.Session
	workspaces []*models.Workspace
	handlers   map[string]Handler
	aborted    atomic.Bool
	log        zerolog.Logger
}

// New creates a processor over the given workspaces.
func New(st *store.Store, sess *session.Session, workspaces []*models.Workspace) *Processor {
	return &Processor{
		store:      st,
		session:    sess,
		workspaces: workspaces,
		handlers:   make(map[string]Handler),
		log:        logger.GetProcessorLogger(),
	}
}

// Register binds a handler name to its function.
func (p *Processor) Register(name string, handler Handler) {
	p.handlers[name] = handler
}

// AddTask enqueues a task for (record, handler). Idempotent: an
// existing task for the same pair is returned unchanged. Unknown
// handler names are a hard error.
func (p *Processor) AddTask(ctx context.Context, record *store.Record, handler string) (*models.Task, error) {
	if _, ok := p.handlers[handler]; !ok {
		return nil, fmt.Errorf("unknown handler %q", handler)
	}
	existing, err := p.store.FindTaskByRecordAndHandler(ctx, record.Type(), record.ID(), handler)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	task := &models.Task{
		Status:     models.TaskStatusPending,
		RecordType: record.Type(),
		RecordID:   record.ID(),
		Handler:    handler,
	}
	if err := p.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	p.log.Debug().Uint("task_id", task.ID).Str("handler", handler).Msg("Task enqueued")
	return task, nil
}

// Abort asks every drain loop to stop after its current task.
func (p *Processor) Abort() {
	p.aborted.Store(true)
}

// Aborted reports whether an abort was requested.
func (p *Processor) Aborted() bool {
	return p.aborted.Load()
}

// Call drains the task queue. One workspace drains synchronously;
// several drain concurrently, one slot each, bounded by a semaphore.
// The first error aborts the whole set cooperatively and is returned
// once every slot has settled. afterEach, when given, runs between
// tasks on each slot.
func (p *Processor) Call(ctx context.Context, afterEach func()) error {
	switch len(p.workspaces) {
	case 0:
		return fmt.Errorf("must provide at least one workspace")
	case 1:
		return p.drain(ctx, p.workspaces[0], afterEach)
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(len(p.workspaces)))
	for _, ws := range p.workspaces {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			if err := p.drain(gctx, ws, afterEach); err != nil {
				p.Abort()
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// drain claims and runs tasks visible to one workspace until the queue
// is empty or an abort is requested.
func (p *Processor) drain(ctx context.Context, ws *models.Workspace, afterEach func()) error {
	for !p.aborted.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, err := p.store.ClaimNextPendingTask(ctx, ws.ID)
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}

		handler, ok := p.handlers[task.Handler]
		if !ok {
			return fmt.Errorf("task %d names unknown handler %q", task.ID, task.Handler)
		}
		p.log.Debug().Uint("task_id", task.ID).Uint("workspace_id", ws.ID).Msg("Running task")
		if err := handler(ctx, task, ws); err != nil {
			return err
		}

		fresh, err := p.store.GetTask(ctx, task.ID)
		if err != nil {
			return err
		}
		if fresh.Pending() {
			return fmt.Errorf("task %d: %w", task.ID, ErrTaskPending)
		}
		if afterEach != nil {
			afterEach()
		}
	}
	return nil
}
