// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noldarim/weaver/internal/models"
)

// Report renders the deterministic, line-delimited batch summary:
// task counts, the elapsed span from first creation to last update,
// workspace count, and priced spend from the cost oracle, followed by
// the first few failed task messages.
func (b *Batch) Report(ctx context.Context) (string, error) {
	tasks, err := b.store.AllTasks(ctx)
	if err != nil {
		return "", err
	}

	var done, pending, failed int
	var failedTasks []*models.Task
	for _, t := range tasks {
		switch {
		case t.Done():
			done++
		case t.Failed():
			failed++
			failedTasks = append(failedTasks, t)
		default:
			pending++
		}
	}

	projectCost, runCost, err := b.session.Oracle().Cost(ctx, b.session.Project(), b.session.RunID())
	if err != nil {
		return "", err
	}

	total := len(tasks)
	worktrees := len(b.workspaces)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Total: %d\n", total)
	fmt.Fprintf(&sb, "Succeeded: %d\n", done)
	fmt.Fprintf(&sb, "Pending: %d\n", pending)
	fmt.Fprintf(&sb, "Failed: %d\n", failed)

	var span time.Duration
	if total > 0 {
		span = taskSpan(tasks)
		hours := int(span.Hours())
		mins := int(span.Minutes()) % 60
		secs := int(span.Seconds()) % 60
		fmt.Fprintf(&sb, "Time: %d hrs, %d mins, %d secs\n", hours, mins, secs)
	}

	fmt.Fprintf(&sb, "Worktrees: %d\n", worktrees)
	fmt.Fprintf(&sb, "Run cost: $%.2f\n", runCost)
	fmt.Fprintf(&sb, "Project total cost: $%.2f\n", projectCost)
	if total > 0 && worktrees > 0 {
		fmt.Fprintf(&sb, "Cost per task: $%.2f\n", runCost*float64(worktrees)/float64(total))
		fmt.Fprintf(&sb, "Minutes per task: %.2f\n", span.Minutes()/float64(worktrees)/float64(total))
	}

	if failed > 0 {
		limit := min(failed, 3)
		fmt.Fprintf(&sb, "\nFirst %d failed task(s):\n", limit)
		for _, t := range failedTasks[:limit] {
			fmt.Fprintf(&sb, "- %s\n", t.ErrorMessage)
		}
	}
	return sb.String(), nil
}

// taskSpan is max(updated_at) - min(created_at) across tasks.
func taskSpan(tasks []*models.Task) time.Duration {
	earliest := tasks[0].CreatedAt
	latest := tasks[0].UpdatedAt
	for _, t := range tasks[1:] {
		if t.CreatedAt.Before(earliest) {
			earliest = t.CreatedAt
		}
		if t.UpdatedAt.After(latest) {
			latest = t.UpdatedAt
		}
	}
	if latest.Before(earliest) {
		return 0
	}
	return latest.Sub(earliest)
}
