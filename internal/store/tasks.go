// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noldarim/weaver/internal/models"
)

// Typed accessors for the engine's own tables. Write methods must be
// called on the root store; version-pinned stores reject them.

// CreateTask inserts a new task.
func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	if s.ReadOnly() {
		return ErrReadOnlyStore
	}
	return s.db.WithContext(ctx).Create(task).Error
}

// SaveTask persists every field of the task.
func (s *Store) SaveTask(ctx context.Context, task *models.Task) error {
	if s.ReadOnly() {
		return ErrReadOnlyStore
	}
	return s.db.WithContext(ctx).Save(task).Error
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id uint) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

// FindTaskByRecordAndHandler finds a task by its (record, handler)
// identity. Returns nil, nil when not found, for idempotency checks.
func (s *Store) FindTaskByRecordAndHandler(ctx context.Context, recordType string, recordID uint, handler string) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).
		Where("record_type = ? AND record_id = ? AND handler = ?", recordType, recordID, handler).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// AllTasks retrieves every task ordered by creation time.
func (s *Store) AllTasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountTasksByStatus counts tasks in the given status.
func (s *Store) CountTasksByStatus(ctx context.Context, status models.TaskStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Task{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// ClaimNextPendingTask claims the oldest pending task visible to the
// given workspace: either already bound to it, or unbound. Binding an
// unbound task happens in the same transaction as the read, so two
// slots can never claim the same task. Returns nil, nil when the queue
// is drained.
func (s *Store) ClaimNextPendingTask(ctx context.Context, workspaceID uint) (*models.Task, error) {
	var claimed *models.Task
	err := s.Transaction(func(tx *Store) error {
		var task models.Task
		err := tx.db.WithContext(ctx).
			Where("(workspace_id = ? OR workspace_id IS NULL) AND status = ?", workspaceID, models.TaskStatusPending).
			Order("created_at ASC").
			First(&task).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if task.WorkspaceID == nil {
			task.WorkspaceID = &workspaceID
			if err := tx.db.WithContext(ctx).Model(&task).Update("workspace_id", workspaceID).Error; err != nil {
				return err
			}
		}
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CreateWorkspace inserts a new workspace.
func (s *Store) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if s.ReadOnly() {
		return ErrReadOnlyStore
	}
	return s.db.WithContext(ctx).Create(ws).Error
}

// FindOrCreateWorkspace returns the workspace with the given dir,
// creating it when absent. Idempotent by the unique dir column.
func (s *Store) FindOrCreateWorkspace(ctx context.Context, dir string, env map[string]string) (*models.Workspace, error) {
	if s.ReadOnly() {
		return nil, ErrReadOnlyStore
	}
	var ws models.Workspace
	err := s.db.WithContext(ctx).Where("dir = ?", dir).First(&ws).Error
	if err == nil {
		return &ws, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	ws = models.Workspace{Dir: dir, Env: env}
	if err := s.db.WithContext(ctx).Create(&ws).Error; err != nil {
		return nil, err
	}
	return &ws, nil
}

// GetWorkspace retrieves a workspace by ID.
func (s *Store) GetWorkspace(ctx context.Context, id uint) (*models.Workspace, error) {
	var ws models.Workspace
	err := s.db.WithContext(ctx).First(&ws, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &ws, nil
}

// AllWorkspaces retrieves every workspace ordered by ID.
func (s *Store) AllWorkspaces(ctx context.Context) ([]*models.Workspace, error) {
	var workspaces []*models.Workspace
	err := s.db.WithContext(ctx).Order("id ASC").Find(&workspaces).Error
	if err != nil {
		return nil, err
	}
	return workspaces, nil
}
