// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ReadFileTool returns the contents of one workspace file.
type ReadFileTool struct {
	workspaceDir string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace. Takes a workspace-relative path."
}

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
		"required": []any{"path"},
	}
}

func (t *ReadFileTool) Call(ctx context.Context, args map[string]any) (string, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	path, err := resolvePath(t.workspaceDir, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return string(data), nil
}

// EditFileTool replaces one occurrence of a string in a workspace
// file, or writes the file whole when old_string is absent.
type EditFileTool struct {
	workspaceDir string
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a workspace file. With old_string, replaces its first occurrence with new_string; without, overwrites the file with new_string."
}

func (t *EditFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":       map[string]any{"type": "string"},
			"old_string": map[string]any{"type": "string"},
			"new_string": map[string]any{"type": "string"},
		},
		"required": []any{"path", "new_string"},
	}
}

func (t *EditFileTool) Call(ctx context.Context, args map[string]any) (string, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	path, err := resolvePath(t.workspaceDir, rel)
	if err != nil {
		return "", err
	}
	newString, _ := args["new_string"].(string)
	oldString, _ := args["old_string"].(string)

	if oldString == "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create parent dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(path, []byte(newString), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", rel, err)
		}
		return fmt.Sprintf("wrote %s", rel), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	content := string(data)
	if !strings.Contains(content, oldString) {
		return "", fmt.Errorf("old_string not found in %s", rel)
	}
	content = strings.Replace(content, oldString, newString, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return fmt.Sprintf("edited %s", rel), nil
}

// GrepTool searches workspace files by regular expression.
type GrepTool struct {
	workspaceDir string
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search workspace files for a regular expression. Returns path:line:text matches."
}

func (t *GrepTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string"},
			"glob":    map[string]any{"type": "string"},
		},
		"required": []any{"pattern"},
	}
}

const grepMatchLimit = 200

func (t *GrepTool) Call(ctx context.Context, args map[string]any) (string, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	globPattern, _ := args["glob"].(string)

	var matches []string
	root := filepath.Clean(t.workspaceDir)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if globPattern != "" {
			ok, err := filepath.Match(globPattern, filepath.Base(rel))
			if err != nil {
				return fmt.Errorf("invalid glob: %w", err)
			}
			if !ok {
				return nil
			}
		}
		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			if re.MatchString(scanner.Text()) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, line, scanner.Text()))
				if len(matches) >= grepMatchLimit {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return strings.Join(matches, "\n"), nil
}

// GlobTool lists workspace files matching a glob pattern.
type GlobTool struct {
	workspaceDir string
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "List workspace files matching a glob pattern, e.g. **/*.go."
}

func (t *GlobTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string"},
		},
		"required": []any{"pattern"},
	}
}

func (t *GlobTool) Call(ctx context.Context, args map[string]any) (string, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return "", err
	}

	root := filepath.Clean(t.workspaceDir)
	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ok, err := matchGlob(pattern, rel)
		if err != nil {
			return err
		}
		if ok {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "no matches", nil
	}
	return strings.Join(paths, "\n"), nil
}

// matchGlob supports the ** segment wildcard on top of filepath.Match.
func matchGlob(pattern, rel string) (bool, error) {
	if !strings.Contains(pattern, "**") {
		return filepath.Match(pattern, rel)
	}
	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")
	if prefix != "" && !strings.HasPrefix(rel, prefix+"/") {
		return false, nil
	}
	if suffix == "" {
		return true, nil
	}
	return filepath.Match(suffix, filepath.Base(rel))
}
