// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the weaver command line: run a YAML-declared
// pipeline over a record table, inspect tasks and versions, and manage
// named snapshots.
package cli

import (
	"fmt"
	"os"
)

const (
	appName    = "weaver"
	appVersion = "0.1.0"
)

// Execute runs the CLI application
func Execute() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		return runCommand(args)
	case "tasks":
		return tasksCommand(args)
	case "versions":
		return versionsCommand(args)
	case "snapshot":
		return snapshotCommand(args)
	case "report":
		return reportCommand(args)
	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage()
	}
}

func printUsage() error {
	fmt.Printf(`%s - durable LLM pipeline runner

Usage:
  %s <command> [arguments]

Commands:
  run           Run a pipeline file over its record table
  tasks         List tasks and their progress
  versions      List automatic store versions
  snapshot      Save or restore a named snapshot
  report        Print the batch report for the store
  version       Print version information
  help          Show this help message

Examples:
  %s run --pipeline pipeline.yaml
  %s run --pipeline pipeline.yaml --config config.yaml
  %s tasks --config config.yaml
  %s versions --config config.yaml
  %s snapshot save before-refactor
  %s snapshot restore before-refactor

`, appName, appName, appName, appName, appName, appName, appName, appName)
	return nil
}
