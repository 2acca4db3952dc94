// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noldarim/weaver/internal/models"
)

// Migration is one idempotent schema change, keyed by version. String
// versions are used for auto-generated "table_<name>" migrations,
// numeric-string versions for explicit user migrations.
type Migration struct {
	Version string
	Run     func(tx *gorm.DB) error
}

// builtinMigrations creates the engine's own tables. They are
// prepended so user migrations can reference them.
func builtinMigrations() []Migration {
	single := func(model any) func(tx *gorm.DB) error {
		return func(tx *gorm.DB) error { return tx.AutoMigrate(model) }
	}
	return []Migration{
		{Version: "table_workspaces", Run: single(&models.Workspace{})},
		{Version: "table_tasks", Run: single(&models.Task{})},
		{Version: "table_models", Run: single(&models.Model{})},
		{Version: "table_chats", Run: single(&models.Chat{})},
		{Version: "table_messages", Run: single(&models.Message{})},
		{Version: "table_tool_calls", Run: single(&models.ToolCall{})},
	}
}

// recordMigrations derives one "table_<name>" migration per declared
// record type.
func (s *Store) recordMigrations() ([]Migration, error) {
	var migrations []Migration
	for _, name := range s.registry.Names() {
		rt := s.registry.types[name]
		sql, err := createTableSQL(rt.table, rt.columns)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{
			Version: "table_" + name,
			Run: func(tx *gorm.DB) error {
				return tx.Exec(sql).Error
			},
		})
	}
	return migrations, nil
}

// migrate applies all pending migrations exactly once each. Only the
// root store migrates.
func (s *Store) migrate() error {
	if s.ReadOnly() {
		return ErrNotRootStore
	}

	if err := s.db.Exec("CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT NOT NULL UNIQUE)").Error; err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	derived, err := s.recordMigrations()
	if err != nil {
		return err
	}

	// Schema-derived migrations run first so tables exist before user
	// migrations touch them.
	pending := append(builtinMigrations(), derived...)
	pending = append(pending, s.cfg.Migrations...)

	for _, m := range pending {
		var count int64
		if err := s.db.Table("schema_migrations").Where("version = ?", m.Version).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := m.Run(tx); err != nil {
				return err
			}
			return tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version).Error
		}); err != nil {
			return fmt.Errorf("migration %q failed: %w", m.Version, err)
		}
		s.log.Debug().Str("version", m.Version).Msg("Applied migration")
	}
	return nil
}
