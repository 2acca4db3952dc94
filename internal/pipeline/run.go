// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/samber/lo"

	"github.com/noldarim/weaver/internal/git"
	"github.com/noldarim/weaver/internal/models"
	"github.com/noldarim/weaver/internal/session"
	"github.com/noldarim/weaver/internal/store"
)

// RewindError reports an invalid rewind target: one that appears zero
// or multiple times in the task's completed steps.
type RewindError struct {
	Target  string
	Matches int
}

func (e *RewindError) Error() string {
	return fmt.Sprintf("cannot rewind to step %q: %d matches in completed steps", e.Target, e.Matches)
}

// panicError carries a recovered panic value and its stack through the
// error path.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%T: %v\n%s", e.value, e.value, e.stack)
}

// Call runs the pipeline against the task until every step is done or
// the task fails. Uncaught step errors fail the task and are absorbed;
// AbortCostExceededError additionally propagates to the caller so the
// whole batch can stop.
func (f *Family) Call(ctx context.Context, task *models.Task, sess *session.Session, g git.Git) error {
	st := sess.Store()
	f.log.Info().Uint("task_id", task.ID).Str("record_type", task.RecordType).Msg("Pipeline start")

	runErr := f.run(ctx, task, sess, g)
	if runErr == nil {
		f.log.Info().Uint("task_id", task.ID).Str("status", string(task.Status)).Msg("Pipeline finished")
		return nil
	}

	detail := errorDetail(runErr)
	f.log.Error().Uint("task_id", task.ID).Str("error", detail).Msg("Pipeline failed")
	failErr := st.Transaction(func(tx *store.Store) error {
		task.Fail(detail)
		var ws *models.Workspace
		if task.WorkspaceID != nil {
			loaded, wsErr := tx.GetWorkspace(ctx, *task.WorkspaceID)
			if wsErr != nil {
				task.ErrorMessage += "\non_failure: " + errorDetail(wsErr)
			} else {
				ws = loaded
			}
		}
		if c, ctxErr := f.contextFor(ctx, tx, task, ws, sess, g); ctxErr != nil {
			task.ErrorMessage += "\non_failure: " + errorDetail(ctxErr)
		} else {
			f.runFailureCallbacks(c)
		}
		return tx.SaveTask(ctx, task)
	})
	if failErr != nil {
		return failErr
	}

	var abort *session.AbortCostExceededError
	if errors.As(runErr, &abort) {
		return abort
	}
	return nil
}

func (f *Family) run(ctx context.Context, task *models.Task, sess *session.Session, g git.Git) error {
	st := sess.Store()
	if task.WorkspaceID == nil {
		return fmt.Errorf("task %d has no workspace", task.ID)
	}
	ws, err := st.GetWorkspace(ctx, *task.WorkspaceID)
	if err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}
	wsGit := g.InDir(ws.Dir)

	for task.Pending() && !task.Failed() {
		next, ok := f.nextStep(task)
		if !ok {
			break
		}
		f.log.Debug().Uint("task_id", task.ID).Str("step", next.name).Msg("Running step")

		err := st.Transaction(func(tx *store.Store) error {
			c, err := f.contextFor(ctx, tx, task, ws, sess, wsGit)
			if err != nil {
				return err
			}
			if err := runBody(next.fn, c); err != nil {
				return err
			}
			switch {
			case task.Failed():
				f.runFailureCallbacks(c)
			case c.rewindTarget != "":
				if err := truncateCompletedSteps(task, c.rewindTarget); err != nil {
					return err
				}
			default:
				task.CompletedSteps = append(task.CompletedSteps, next.name)
			}
			return tx.SaveTask(ctx, task)
		})
		if err != nil {
			return err
		}
	}

	return st.Transaction(func(tx *store.Store) error {
		if task.Failed() {
			return nil
		}
		task.MarkDone()
		return tx.SaveTask(ctx, task)
	})
}

// nextStep returns the first declared step not yet in completed_steps.
func (f *Family) nextStep(task *models.Task) (step, bool) {
	for _, s := range f.steps {
		if !lo.Contains(task.CompletedSteps, s.name) {
			return s, true
		}
	}
	return step{}, false
}

func (f *Family) contextFor(ctx context.Context, tx *store.Store, task *models.Task, ws *models.Workspace, sess *session.Session, g git.Git) (*StepContext, error) {
	c := &StepContext{
		goCtx:     ctx,
		family:    f,
		task:      task,
		store:     tx,
		workspace: ws,
		session:   sess.WithStore(tx),
		git:       g,
	}
	if task.RecordType != "" {
		records, err := tx.Records(task.RecordType)
		if err != nil {
			return nil, err
		}
		record, err := records.Find(task.RecordID)
		if err != nil {
			return nil, err
		}
		c.record = record
	}
	return c, nil
}

// runBody runs a step body, converting panics into errors. A spend
// abort panicking up from the session keeps its identity.
func runBody(fn StepFunc, c *StepContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if abort, ok := r.(*session.AbortCostExceededError); ok {
				err = abort
				return
			}
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn(c)
}

// runFailureCallbacks runs every on_failure callback in declaration
// order. Errors and panics they raise are swallowed into the task's
// error message.
func (f *Family) runFailureCallbacks(c *StepContext) {
	for _, fn := range f.onFailure {
		if err := runBody(fn, c); err != nil {
			f.log.Warn().Uint("task_id", c.task.ID).Err(err).Msg("on_failure callback failed")
			c.task.ErrorMessage += "\non_failure: " + errorDetail(err)
		}
	}
}

// truncateCompletedSteps cuts completed_steps to just before the
// target's single occurrence.
func truncateCompletedSteps(task *models.Task, target string) error {
	matches := 0
	first := -1
	for i, name := range task.CompletedSteps {
		if name == target {
			matches++
			if first < 0 {
				first = i
			}
		}
	}
	if matches != 1 {
		return &RewindError{Target: target, Matches: matches}
	}
	task.CompletedSteps = task.CompletedSteps[:first]
	return nil
}

func errorDetail(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return fmt.Sprintf("%T: %v", err, err)
}
