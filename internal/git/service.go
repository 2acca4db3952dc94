// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noldarim/weaver/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetGitLogger().With().Str("component", "service").Logger()
		log = &l
	})
	return log
}

const (
	maxPathLength       = 4096
	maxBranchNameLength = 250
	maxMessageLength    = 8192
	commandTimeout      = 30 * time.Second
)

// Safe branch name pattern: alphanumeric, hyphens, underscores, forward slashes
var branchNameRegex = regexp.MustCompile(`^[a-zA-Z0-9/_-]+$`)

// Allowed git operations
var allowedOperations = map[string]bool{
	"init":      true,
	"add":       true,
	"commit":    true,
	"checkout":  true,
	"branch":    true,
	"status":    true,
	"rev-parse": true,
	"diff":      true,
	"log":       true,
	"show-ref":  true,
	"worktree":  true,
	"reset":     true,
	"clean":     true,
	"config":    true,
}

// Service is the exec-based Git implementation. repoDir is the main
// repository; workDir is where workspace operations run (the same as
// repoDir until InDir rebinds it).
type Service struct {
	repoDir string
	workDir string
}

// NewService creates a service over an existing repository.
func NewService(repoDir string) (*Service, error) {
	if repoDir == "" {
		return nil, fmt.Errorf("repository path cannot be empty")
	}
	absPath, err := filepath.Abs(repoDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	s := &Service{repoDir: absPath, workDir: absPath}
	if !s.isRepository(absPath) {
		return nil, fmt.Errorf("not a git repository: %s", absPath)
	}
	return s, nil
}

// InitService creates a service over repoDir, initializing a
// repository with an initial commit when none exists.
func InitService(ctx context.Context, repoDir string) (*Service, error) {
	if repoDir == "" {
		return nil, fmt.Errorf("repository path cannot be empty")
	}
	absPath, err := filepath.Abs(repoDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	s := &Service{repoDir: absPath, workDir: absPath}
	if !s.isRepository(absPath) {
		if err := s.run(ctx, absPath, "init"); err != nil {
			return nil, fmt.Errorf("failed to initialize git repository: %w", err)
		}
		getLog().Info().Str("repo_dir", absPath).Msg("Initialized new git repository")
	}
	if _, err := s.headRevision(ctx, absPath); err != nil {
		if err := s.run(ctx, absPath, "add", "."); err != nil {
			return nil, fmt.Errorf("failed to stage initial files: %w", err)
		}
		if err := s.run(ctx, absPath, "commit", "--allow-empty", "-m", "initial commit"); err != nil {
			return nil, fmt.Errorf("failed to create initial commit: %w", err)
		}
	}
	return s, nil
}

// InDir returns a service bound to another working directory, sharing
// the same main repository.
func (s *Service) InDir(dir string) Git {
	return &Service{repoDir: s.repoDir, workDir: dir}
}

// Dir returns the bound working directory.
func (s *Service) Dir() string {
	return s.workDir
}

// Validation helpers

func validatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if len(path) > maxPathLength {
		return "", fmt.Errorf("path too long: %d characters (max: %d)", len(path), maxPathLength)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains invalid directory traversal")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return filepath.Clean(absPath), nil
}

func validateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if len(name) > maxBranchNameLength {
		return fmt.Errorf("branch name too long: %d characters (max: %d)", len(name), maxBranchNameLength)
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("branch name cannot start with '-' or '.'")
	}
	if !branchNameRegex.MatchString(name) {
		return fmt.Errorf("branch name contains invalid characters: %s", name)
	}
	return nil
}

func validateMessage(message string) error {
	if message == "" {
		return fmt.Errorf("commit message cannot be empty")
	}
	if len(message) > maxMessageLength {
		return fmt.Errorf("commit message too long: %d characters (max: %d)", len(message), maxMessageLength)
	}
	return nil
}

func safeEnvironment() []string {
	return []string{
		"HOME=" + os.Getenv("HOME"),
		"USER=" + os.Getenv("USER"),
		"PATH=" + os.Getenv("PATH"),
		"LANG=" + os.Getenv("LANG"),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=",
	}
}

func (s *Service) buildCommand(ctx context.Context, workDir string, args ...string) (*exec.Cmd, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no git command specified")
	}
	operation := args[0]
	if !allowedOperations[operation] {
		return nil, fmt.Errorf("git operation not allowed: %s", operation)
	}
	validatedDir, err := validatePath(workDir)
	if err != nil {
		return nil, fmt.Errorf("invalid working directory: %w", err)
	}

	getLog().Debug().Str("operation", operation).Strs("args", args).Str("work_dir", validatedDir).Msg("Git operation")

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = validatedDir
	cmd.Env = safeEnvironment()
	return cmd, nil
}

func (s *Service) run(ctx context.Context, workDir string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd, err := s.buildCommand(ctx, workDir, args...)
	if err != nil {
		return err
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git command failed: %s, output: %s", err, string(output))
	}
	return nil
}

func (s *Service) output(ctx context.Context, workDir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd, err := s.buildCommand(ctx, workDir, args...)
	if err != nil {
		return "", err
	}
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git command failed: %w", err)
	}
	return string(output), nil
}

func (s *Service) isRepository(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func (s *Service) headRevision(ctx context.Context, dir string) (string, error) {
	out, err := s.output(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// worktreeExists checks for the .git file that marks a linked worktree.
func worktreeExists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// CreateWorktree provisions a worktree at dir on branch, starting from
// revision (empty = current HEAD). Stale or existing worktrees at the
// same path are pruned and removed first, then recreated with -B so
// retries always converge on the same state.
func (s *Service) CreateWorktree(ctx context.Context, dir, branch, revision string) error {
	validatedDir, err := validatePath(dir)
	if err != nil {
		return fmt.Errorf("invalid worktree path: %w", err)
	}
	if err := validateBranchName(branch); err != nil {
		return fmt.Errorf("invalid branch name: %w", err)
	}

	if err := s.run(ctx, s.repoDir, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	if worktreeExists(validatedDir) {
		if err := s.run(ctx, s.repoDir, "worktree", "remove", "--force", validatedDir); err != nil {
			return fmt.Errorf("failed to remove existing worktree: %w", err)
		}
	}

	if revision == "" {
		rev, err := s.headRevision(ctx, s.repoDir)
		if err != nil {
			return err
		}
		revision = rev
	}

	if err := s.run(ctx, s.repoDir, "worktree", "add", "-B", branch, validatedDir, revision); err != nil {
		return fmt.Errorf("failed to add worktree: %w", err)
	}

	getLog().Info().Str("dir", validatedDir).Str("branch", branch).Msg("Provisioned worktree")
	return nil
}

// Diff returns the full diff against HEAD. Untracked files are staged
// with intent-to-add first so they appear in the output.
func (s *Service) Diff(ctx context.Context) (string, error) {
	if err := s.run(ctx, s.workDir, "add", "-N", "."); err != nil {
		getLog().Debug().Err(err).Msg("Failed to add files for diff capture")
	}
	out, err := s.output(ctx, s.workDir, "diff", "HEAD")
	if err != nil {
		if strings.Contains(err.Error(), "ambiguous argument 'HEAD'") {
			return "", nil
		}
		return "", fmt.Errorf("failed to get diff: %w", err)
	}
	return out, nil
}

// Status returns porcelain status output.
func (s *Service) Status(ctx context.Context) (string, error) {
	out, err := s.output(ctx, s.workDir, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}
	return out, nil
}

// CommitAll stages everything and commits. A clean tree returns the
// current HEAD without committing.
func (s *Service) CommitAll(ctx context.Context, message string) (string, error) {
	if err := validateMessage(message); err != nil {
		return "", fmt.Errorf("invalid commit message: %w", err)
	}
	if err := s.run(ctx, s.workDir, "add", "."); err != nil {
		return "", fmt.Errorf("failed to add changes: %w", err)
	}

	hasChanges, err := s.hasStagedChanges(ctx)
	if err != nil {
		return "", err
	}
	if hasChanges {
		if err := s.run(ctx, s.workDir, "commit", "-m", message); err != nil {
			return "", fmt.Errorf("failed to create commit: %w", err)
		}
	}
	return s.headRevision(ctx, s.workDir)
}

// LastRevision returns the HEAD commit hash.
func (s *Service) LastRevision(ctx context.Context) (string, error) {
	return s.headRevision(ctx, s.workDir)
}

// ResetHardAll discards all tracked changes and untracked files.
func (s *Service) ResetHardAll(ctx context.Context) error {
	if err := s.run(ctx, s.workDir, "reset", "--hard", "HEAD"); err != nil {
		return fmt.Errorf("failed to reset working tree: %w", err)
	}
	if err := s.run(ctx, s.workDir, "clean", "-fd"); err != nil {
		return fmt.Errorf("failed to clean working tree: %w", err)
	}
	return nil
}

// UncommittedChanges reports whether the working tree is dirty.
func (s *Service) UncommittedChanges(ctx context.Context) (bool, error) {
	out, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(out)) > 0, nil
}

func (s *Service) hasStagedChanges(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd, err := s.buildCommand(ctx, s.workDir, "diff", "--cached", "--quiet")
	if err != nil {
		return false, err
	}
	err = cmd.Run()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok && exitError.ExitCode() == 1 {
			return true, nil
		}
		return false, fmt.Errorf("failed to check for staged changes: %w", err)
	}
	return false, nil
}
