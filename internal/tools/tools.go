// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools defines the tool boundary handed to chat backends and
// the built-in file tools bound to a workspace directory.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Tool is one capability a model may invoke during a conversation.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Constructor builds a tool from merged arguments. Session tool
// resolution injects workspace_dir when the caller did not set one.
type Constructor func(args map[string]any) (Tool, error)

// Builtins maps tool names to their constructors.
func Builtins() map[string]Constructor {
	return map[string]Constructor{
		"read_file": func(args map[string]any) (Tool, error) {
			dir, err := workspaceDir(args)
			if err != nil {
				return nil, err
			}
			return &ReadFileTool{workspaceDir: dir}, nil
		},
		"edit_file": func(args map[string]any) (Tool, error) {
			dir, err := workspaceDir(args)
			if err != nil {
				return nil, err
			}
			return &EditFileTool{workspaceDir: dir}, nil
		},
		"grep": func(args map[string]any) (Tool, error) {
			dir, err := workspaceDir(args)
			if err != nil {
				return nil, err
			}
			return &GrepTool{workspaceDir: dir}, nil
		},
		"glob": func(args map[string]any) (Tool, error) {
			dir, err := workspaceDir(args)
			if err != nil {
				return nil, err
			}
			return &GlobTool{workspaceDir: dir}, nil
		},
	}
}

func workspaceDir(args map[string]any) (string, error) {
	dir, _ := args["workspace_dir"].(string)
	if dir == "" {
		return "", fmt.Errorf("tool requires workspace_dir")
	}
	return dir, nil
}

// resolvePath joins a relative path onto the workspace and rejects
// escapes above it.
func resolvePath(workspaceDir, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative to the workspace: %s", rel)
	}
	joined := filepath.Clean(filepath.Join(workspaceDir, rel))
	root := filepath.Clean(workspaceDir)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", rel)
	}
	return joined, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	value, _ := args[key].(string)
	if value == "" {
		return "", fmt.Errorf("argument %q is required", key)
	}
	return value, nil
}
