// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
	Session SessionConfig `mapstructure:"session"`
	Git     GitConfig     `mapstructure:"git"`
	Prompts PromptsConfig `mapstructure:"prompts"`
}

// StoreConfig holds the versioned record store configuration.
// Exactly one of Dir or Path must be set: Dir expects DBFilename
// alongside it, Path is the full path to the live database file.
type StoreConfig struct {
	Dir        string `mapstructure:"dir"`
	Path       string `mapstructure:"path"`
	DBFilename string `mapstructure:"db_filename"`
	Versioned  bool   `mapstructure:"versioned"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeLevel      bool   `mapstructure:"include_level"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"` // Level at which to include stack trace
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// SessionConfig holds session-level configuration: project identity,
// spend limits, and the model transport blob passed to the chat backend.
type SessionConfig struct {
	Project             string         `mapstructure:"project"`
	RunID               string         `mapstructure:"run_id"` // Empty = current unix second at session build
	DefaultWorkspaceDir string         `mapstructure:"default_workspace_dir"`
	MaxSpendProject     float64        `mapstructure:"max_spend_project"` // Dollars; 0 = unlimited
	MaxSpendRun         float64        `mapstructure:"max_spend_run"`     // Dollars; 0 = unlimited
	Model               ModelConfig    `mapstructure:"model"`
	Pricing             PricingConfig  `mapstructure:"pricing"`
	Extra               map[string]any `mapstructure:"extra"` // Opaque transport options
}

// ModelConfig identifies the LLM transport.
type ModelConfig struct {
	Provider  string `mapstructure:"provider"` // "anthropic" or "fake"
	Name      string `mapstructure:"name"`
	MaxTokens int    `mapstructure:"max_tokens"`
	APIKeyEnv string `mapstructure:"api_key_env"` // Env var holding the API key
}

// PricingConfig holds per-million-token dollar rates used by the
// store-backed cost oracle. The table itself is caller-supplied.
type PricingConfig struct {
	InputPerMTok         float64 `mapstructure:"input_per_mtok"`
	OutputPerMTok        float64 `mapstructure:"output_per_mtok"`
	CachedPerMTok        float64 `mapstructure:"cached_per_mtok"`
	CacheCreationPerMTok float64 `mapstructure:"cache_creation_per_mtok"`
}

// GitConfig holds git worktree provisioning configuration.
type GitConfig struct {
	RepoDir         string              `mapstructure:"repo_dir"`
	WorktreeRoot    string              `mapstructure:"worktree_root"`
	BranchPrefix    string              `mapstructure:"branch_prefix"`
	InitialRevision string              `mapstructure:"initial_revision"`
	WorkingSubdir   string              `mapstructure:"working_subdir"`
	WorktreeEnvs    []map[string]string `mapstructure:"worktree_envs"`
}

// PromptsConfig holds prompt pack loading configuration.
type PromptsConfig struct {
	Paths []string `mapstructure:"paths"` // YAML prompt pack files, later packs override earlier keys
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/weaver/")
		v.AddConfigPath("$HOME/.weaver")
	}

	v.SetEnvPrefix("WEAVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Store: StoreConfig{
			Dir:        ".",
			DBFilename: "weaver.sqlite3",
			Versioned:  true,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/weaver.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: false,
				},
			},
			Levels: map[string]string{
				"store":     "INFO",
				"pipeline":  "INFO",
				"processor": "INFO",
				"chat":      "INFO",
				"session":   "INFO",
				"git":       "INFO",
				"batch":     "INFO",
			},
			Context: LogContextConfig{
				IncludeCaller:     true,
				IncludeTimestamp:  true,
				IncludeLevel:      true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Session: SessionConfig{
			Project:             "default",
			DefaultWorkspaceDir: ".",
			Model: ModelConfig{
				Provider:  "anthropic",
				Name:      "claude-sonnet-4-5",
				MaxTokens: 8192,
				APIKeyEnv: "ANTHROPIC_API_KEY",
			},
		},
		Git: GitConfig{
			WorktreeRoot: "./worktrees",
			BranchPrefix: "weaver",
		},
	}
}

// Validate checks the configuration for invalid combinations.
func (c *AppConfig) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if c.Session.MaxSpendProject < 0 || c.Session.MaxSpendRun < 0 {
		return fmt.Errorf("spend limits must be non-negative")
	}
	return nil
}

// Validate enforces the dir/path exclusivity rule.
func (sc *StoreConfig) Validate() error {
	if sc.Dir != "" && sc.Path != "" {
		return fmt.Errorf("store config: dir and path are mutually exclusive")
	}
	if sc.Dir == "" && sc.Path == "" {
		return fmt.Errorf("store config: one of dir or path is required")
	}
	return nil
}

// ResolvedDir returns the directory holding the live database.
func (sc *StoreConfig) ResolvedDir() string {
	if sc.Path != "" {
		return filepath.Dir(sc.Path)
	}
	return sc.Dir
}

// ResolvedDBFilename returns the live database filename.
func (sc *StoreConfig) ResolvedDBFilename() string {
	if sc.Path != "" {
		return filepath.Base(sc.Path)
	}
	if sc.DBFilename == "" {
		return "weaver.sqlite3"
	}
	return sc.DBFilename
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	c.Store.Dir = expandPath(c.Store.Dir)
	c.Store.Path = expandPath(c.Store.Path)
	c.Git.RepoDir = expandPath(c.Git.RepoDir)
	c.Git.WorktreeRoot = expandPath(c.Git.WorktreeRoot)
	for i, out := range c.Log.Output {
		c.Log.Output[i].Path = expandPath(out.Path)
	}
	for i, p := range c.Prompts.Paths {
		c.Prompts.Paths[i] = expandPath(p)
	}
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return p
}
