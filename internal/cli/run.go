// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/noldarim/weaver/internal/batch"
	"github.com/noldarim/weaver/internal/config"
	"github.com/noldarim/weaver/internal/i18n"
	"github.com/noldarim/weaver/internal/logger"
	"github.com/noldarim/weaver/internal/store"
)

// runCommand loads the pipeline declaration, assembles a batch, seeds
// and enqueues tasks for every record, drains them, and prints the
// report.
func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeCfg := store.Config{
		Dir:        cfg.Store.ResolvedDir(),
		DBFilename: cfg.Store.ResolvedDBFilename(),
		Versioned:  cfg.Store.Versioned,
		Records:    []store.RecordDef{def},
	}
	batchCfg := batch.Config{
		StoreConfig:   &storeCfg,
		SessionConfig: &cfg.Session,
		Family:        pf.BuildFamily(pack),
		RecordType:    pf.Record,
	}
	if cfg.Git.RepoDir != "" {
		batchCfg.GitConfig = &cfg.Git
	}

	b, err := batch.New(ctx, batchCfg)
	if err != nil {
		return err
	}
	defer b.Store().Close()

	// Ctrl-C stops between tasks, a second one kills the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "Stopping after the current task...")
		b.Abort()
		<-sigCh
		cancel()
	}()

	if err := enqueueRecords(ctx, b, pf); err != nil {
		return err
	}

	runErr := b.Call(ctx, nil)

	report, reportErr := b.Report(ctx)
	if reportErr == nil {
		fmt.Print(report)
	}
	if runErr != nil {
		return runErr
	}
	return reportErr
}

// enqueueRecords inserts any declared seed rows, then adds a task for
// every record of the pipeline's type. AddTask is idempotent, so
// re-running resumes where the previous run stopped.
func enqueueRecords(ctx context.Context, b *batch.Batch, pf *PipelineFile) error {
	records, err := b.Store().Records(pf.Record)
	if err != nil {
		return err
	}

	count, err := records.Count()
	if err != nil {
		return err
	}
	if count == 0 {
		for _, attrs := range pf.Seed {
			if _, err := records.Create(attrs); err != nil {
				return fmt.Errorf("failed to seed %s record: %w", pf.Record, err)
			}
		}
	}

	all, err := records.All()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return fmt.Errorf("no %s records to process; declare seed rows or insert them first", pf.Record)
	}
	for _, record := range all {
		if _, err := b.AddTask(ctx, record); err != nil {
			return err
		}
	}
	return nil
}
