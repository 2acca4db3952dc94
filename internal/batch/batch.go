// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package batch assembles a store, a session, provisioned workspaces,
// and a pipeline family into a runnable unit with a report.
package batch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/noldarim/weaver/internal/config"
	"github.com/noldarim/weaver/internal/git"
	"github.com/noldarim/weaver/internal/logger"
	"github.com/noldarim/weaver/internal/models"
	"github.com/noldarim/weaver/internal/pipeline"
	"github.com/noldarim/weaver/internal/processor"
	"github.com/noldarim/weaver/internal/session"
	"github.com/noldarim/weaver/internal/store"
)

// Config accepts either built collaborators or their configuration.
// Exactly one of Store/StoreConfig and of WorkspaceDirs/GitConfig
// provisioning must be chosen.
type Config struct {
	Store       *store.Store
	StoreConfig *store.Config

	Session       *session.Session
	SessionConfig *config.SessionConfig
	SessionOpts   []session.Option

	Git           git.Git
	GitConfig     *config.GitConfig
	WorkspaceDirs []string

	Family     *pipeline.Family
	RecordType string
}

// Batch is the assembled unit.
type Batch struct {
	store      *store.Store
	session    *session.Session
	git        git.Git
	family     *pipeline.Family
	recordType string
	workspaces []*models.Workspace
	processor  *processor.Processor
	log        zerolog.Logger
}

// New builds the batch: opens or adopts the store, builds the session,
// provisions workspaces, and registers the single record-type handler.
func New(ctx context.Context, cfg Config) (*Batch, error) {
	if cfg.Family == nil {
		return nil, fmt.Errorf("batch config: a pipeline family is required")
	}
	if cfg.RecordType == "" {
		return nil, fmt.Errorf("batch config: a record type is required")
	}
	if (cfg.Store == nil) == (cfg.StoreConfig == nil) {
		return nil, fmt.Errorf("batch config: exactly one of store or store config is required")
	}
	if len(cfg.WorkspaceDirs) > 0 && cfg.GitConfig != nil {
		return nil, fmt.Errorf("batch config: workspace dirs and git provisioning are mutually exclusive")
	}

	b := &Batch{
		family:     cfg.Family,
		recordType: cfg.RecordType,
		log:        logger.GetBatchLogger(),
	}

	b.store = cfg.Store
	if b.store == nil {
		st, err := store.Open(*cfg.StoreConfig)
		if err != nil {
			return nil, err
		}
		b.store = st
	}

	b.session = cfg.Session
	if b.session == nil {
		if cfg.SessionConfig == nil {
			return nil, fmt.Errorf("batch config: one of session or session config is required")
		}
		b.session = session.New(*cfg.SessionConfig, b.store, cfg.SessionOpts...)
	}

	b.git = cfg.Git
	if b.git == nil && cfg.GitConfig != nil && cfg.GitConfig.RepoDir != "" {
		svc, err := git.NewService(cfg.GitConfig.RepoDir)
		if err != nil {
			return nil, err
		}
		b.git = svc
	}
	if b.git == nil {
		b.git = git.NewFake(b.session.DefaultWorkspaceDir())
	}

	if err := b.provisionWorkspaces(ctx, cfg); err != nil {
		return nil, err
	}

	b.processor = processor.New(b.store, b.session, b.workspaces)
	b.processor.Register(cfg.RecordType, func(ctx context.Context, task *models.Task, ws *models.Workspace) error {
		return b.family.Call(ctx, task, b.session, b.git)
	})
	return b, nil
}

// provisionWorkspaces registers explicit workspace dirs, or creates
// one git worktree per configured environment entry.
func (b *Batch) provisionWorkspaces(ctx context.Context, cfg Config) error {
	if len(cfg.WorkspaceDirs) > 0 {
		for _, dir := range cfg.WorkspaceDirs {
			ws, err := b.store.FindOrCreateWorkspace(ctx, dir, nil)
			if err != nil {
				return err
			}
			b.workspaces = append(b.workspaces, ws)
		}
		return nil
	}
	if cfg.GitConfig == nil {
		ws, err := b.store.FindOrCreateWorkspace(ctx, b.session.DefaultWorkspaceDir(), nil)
		if err != nil {
			return err
		}
		b.workspaces = append(b.workspaces, ws)
		return nil
	}

	gc := cfg.GitConfig
	prefix := gc.BranchPrefix
	if prefix == "" {
		prefix = "weaver"
	}
	envs := gc.WorktreeEnvs
	if len(envs) == 0 {
		envs = []map[string]string{nil}
	}
	for i, env := range envs {
		branch := fmt.Sprintf("%s-%d", prefix, i)
		dir := filepath.Join(gc.WorktreeRoot, branch)
		if err := b.git.CreateWorktree(ctx, dir, branch, gc.InitialRevision); err != nil {
			return err
		}
		workDir := dir
		if gc.WorkingSubdir != "" {
			workDir = filepath.Join(dir, gc.WorkingSubdir)
		}
		ws, err := b.store.FindOrCreateWorkspace(ctx, workDir, env)
		if err != nil {
			return err
		}
		b.workspaces = append(b.workspaces, ws)
		b.log.Info().Str("dir", workDir).Str("branch", branch).Msg("Workspace provisioned")
	}
	return nil
}

// Store returns the backing store.
func (b *Batch) Store() *store.Store { return b.store }

// Session returns the session.
func (b *Batch) Session() *session.Session { return b.session }

// Workspaces returns the provisioned workspaces.
func (b *Batch) Workspaces() []*models.Workspace { return b.workspaces }

// AddTask enqueues the record under the batch's single handler.
// Idempotent per (record, handler).
func (b *Batch) AddTask(ctx context.Context, record *store.Record) (*models.Task, error) {
	return b.processor.AddTask(ctx, record, b.recordType)
}

// Call drains the task queue across the provisioned workspaces.
func (b *Batch) Call(ctx context.Context, afterEach func()) error {
	return b.processor.Call(ctx, afterEach)
}

// Abort requests a cooperative stop between tasks.
func (b *Batch) Abort() {
	b.processor.Abort()
}
