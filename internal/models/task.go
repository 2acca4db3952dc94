// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task represents one pipeline invocation: which record is being
// processed, by which handler, on which workspace, and how far it got.
// CompletedSteps is appended to exclusively by the pipeline runtime and
// only ever inside a store transaction, so every appended entry is
// captured in a version snapshot.
type Task struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Status         TaskStatus `gorm:"type:text;not null;default:'pending';index" json:"status"`
	CompletedSteps StringList `gorm:"type:text;column:completed_steps" json:"completed_steps"`
	RecordType     string     `gorm:"type:text;index:idx_tasks_record_handler" json:"record_type"`
	RecordID       uint       `gorm:"index:idx_tasks_record_handler" json:"record_id"`
	WorkspaceID    *uint      `gorm:"index" json:"workspace_id"`
	Handler        string     `gorm:"type:text;index:idx_tasks_record_handler" json:"handler"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message"`
	ChatIDs        StringList `gorm:"type:text;column:chat_ids" json:"chat_ids"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Task
func (Task) TableName() string {
	return "tasks"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.CompletedSteps == nil {
		t.CompletedSteps = StringList{}
	}
	if t.ChatIDs == nil {
		t.ChatIDs = StringList{}
	}
	return nil
}

// Pending reports whether the task has not reached a terminal status
func (t *Task) Pending() bool { return t.Status == TaskStatusPending }

// Done reports whether the task completed every step
func (t *Task) Done() bool { return t.Status == TaskStatusDone }

// Failed reports whether the task is in the terminal failed state
func (t *Task) Failed() bool { return t.Status == TaskStatusFailed }

// Fail marks the task failed with the given message. The caller is
// responsible for persisting the task inside a store transaction.
func (t *Task) Fail(message string) {
	t.Status = TaskStatusFailed
	t.ErrorMessage = message
}

// MarkDone marks the task done. The caller is responsible for
// persisting the task inside a store transaction.
func (t *Task) MarkDone() {
	t.Status = TaskStatusDone
}
