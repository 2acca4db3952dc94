// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"time"
)

// Workspace is an isolated working directory (optionally a git
// worktree) to which at most one task is bound at a time.
type Workspace struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Dir       string    `gorm:"type:text;not null;uniqueIndex" json:"dir"`
	Env       JSONMap   `gorm:"type:text" json:"env"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Workspace
func (Workspace) TableName() string {
	return "workspaces"
}
