// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/noldarim/weaver/internal/config"
	"github.com/noldarim/weaver/internal/logger"
	"github.com/noldarim/weaver/internal/models"
	"github.com/noldarim/weaver/internal/store"
)

// openInspectionStore opens the configured store without any record
// declarations. Enough for the task, version and snapshot commands.
func openInspectionStore(configPath string) (*store.Store, error) {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return store.Open(store.Config{
		Dir:        cfg.Store.ResolvedDir(),
		DBFilename: cfg.Store.ResolvedDBFilename(),
		Versioned:  cfg.Store.Versioned,
	})
}

// tasksCommand lists every task with its status and progress.
func tasksCommand(args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	status := fs.String("status", "", "Filter by status (pending, done, failed)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openInspectionStore(*configPath)
	if err != nil {
		return err
	}
	defer st.Close()
	defer logger.CloseGlobal()

	tasks, err := st.AllTasks(context.Background())
	if err != nil {
		return err
	}

	shown := 0
	for _, t := range tasks {
		if *status != "" && string(t.Status) != *status {
			continue
		}
		shown++
		printTask(t)
	}
	if shown == 0 {
		fmt.Println("No tasks found.")
	}
	return nil
}

func printTask(t *models.Task) {
	fmt.Printf("#%d  %-8s %s/%d  handler=%s\n", t.ID, t.Status, t.RecordType, t.RecordID, t.Handler)
	if len(t.CompletedSteps) > 0 {
		fmt.Printf("    steps: %s\n", strings.Join(t.CompletedSteps, ", "))
	}
	if t.ErrorMessage != "" {
		msg := t.ErrorMessage
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		fmt.Printf("    error: %s\n", msg)
	}
}
