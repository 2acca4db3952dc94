// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/noldarim/weaver/internal/batch"
	"github.com/noldarim/weaver/internal/config"
	"github.com/noldarim/weaver/internal/i18n"
	"github.com/noldarim/weaver/internal/logger"
	"github.com/noldarim/weaver/internal/store"
)

// reportCommand prints the batch report for the configured store. It
// reuses the recorded workspaces instead of provisioning new ones.
func reportCommand(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	pipelinePath := fs.String("pipeline", "pipeline.yaml", "Path to pipeline file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.CloseGlobal()

	pf, err := LoadPipelineFile(*pipelinePath)
	if err != nil {
		return err
	}
	def, err := pf.RecordDef()
	if err != nil {
		return err
	}
	pack, err := i18n.Load(cfg.Prompts.Paths...)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := store.Open(store.Config{
		Dir:        cfg.Store.ResolvedDir(),
		DBFilename: cfg.Store.ResolvedDBFilename(),
		Versioned:  cfg.Store.Versioned,
		Records:    []store.RecordDef{def},
	})
	if err != nil {
		return err
	}
	defer st.Close()

	workspaces, err := st.AllWorkspaces(ctx)
	if err != nil {
		return err
	}
	var dirs []string
	for _, ws := range workspaces {
		dirs = append(dirs, ws.Dir)
	}

	b, err := batch.New(ctx, batch.Config{
		Store:         st,
		SessionConfig: &cfg.Session,
		WorkspaceDirs: dirs,
		Family:        pf.BuildFamily(pack),
		RecordType:    pf.Record,
	})
	if err != nil {
		return err
	}

	report, err := b.Report(ctx)
	if err != nil {
		return err
	}
	fmt.Print(report)
	return nil
}
