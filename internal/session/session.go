// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the immutable per-run configuration and turns
// pipeline prompt payloads into audited, spend-gated chat exchanges.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/noldarim/weaver/internal/chat"
	anthropicchat "github.com/noldarim/weaver/internal/chat/anthropic"
	"github.com/noldarim/weaver/internal/config"
	"github.com/noldarim/weaver/internal/logger"
	"github.com/noldarim/weaver/internal/models"
	"github.com/noldarim/weaver/internal/schema"
	"github.com/noldarim/weaver/internal/store"
	"github.com/noldarim/weaver/internal/tools"
)

// BackendFactory creates one conversation backend, seeded with the
// given cached system prompts.
type BackendFactory func(system []string) (chat.Backend, error)

// Session holds immutable run configuration: project identity, spend
// limits, the chat transport, and the tool registry.
type Session struct {
	cfg        config.SessionConfig
	runID      string
	store      *store.Store
	oracle     Oracle
	newBackend BackendFactory
	extraTools map[string]any
	log        zerolog.Logger
}

// Option tunes session construction.
type Option func(*Session)

// WithBackendFactory overrides how conversation backends are built.
func WithBackendFactory(factory BackendFactory) Option {
	return func(s *Session) { s.newBackend = factory }
}

// WithOracle overrides the cost oracle.
func WithOracle(oracle Oracle) Option {
	return func(s *Session) { s.oracle = oracle }
}

// WithExtraTools merges caller tools into the registry. Values may be
// tool instances or constructors.
func WithExtraTools(extra map[string]any) Option {
	return func(s *Session) {
		for name, value := range extra {
			s.extraTools[name] = value
		}
	}
}

// New creates a session over the given store. An empty run id defaults
// to the current unix second.
func New(cfg config.SessionConfig, st *store.Store, opts ...Option) *Session {
	runID := cfg.RunID
	if runID == "" {
		runID = strconv.FormatInt(time.Now().Unix(), 10)
	}
	s := &Session{
		cfg:        cfg,
		runID:      runID,
		store:      st,
		oracle:     NewStoreOracle(st, cfg.Pricing),
		extraTools: make(map[string]any),
		log:        logger.GetSessionLogger(),
	}
	s.newBackend = defaultBackendFactory(cfg)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackendFactory(cfg config.SessionConfig) BackendFactory {
	return func(system []string) (chat.Backend, error) {
		switch cfg.Model.Provider {
		case "anthropic", "":
			return anthropicchat.New(anthropicchat.Config{
				APIKeyEnv: cfg.Model.APIKeyEnv,
				Model:     cfg.Model.Name,
				MaxTokens: cfg.Model.MaxTokens,
				System:    system,
			})
		default:
			return nil, fmt.Errorf("unknown chat provider: %s", cfg.Model.Provider)
		}
	}
}

// Project returns the project name.
func (s *Session) Project() string { return s.cfg.Project }

// RunID returns the run identifier.
func (s *Session) RunID() string { return s.runID }

// DefaultWorkspaceDir returns the fallback workspace directory for
// tool resolution.
func (s *Session) DefaultWorkspaceDir() string { return s.cfg.DefaultWorkspaceDir }

// Oracle returns the cost oracle.
func (s *Session) Oracle() Oracle { return s.oracle }

// Store returns the backing record store.
func (s *Session) Store() *store.Store { return s.store }

// WithStore returns a session bound to the given store handle. The
// pipeline rebinds the session inside each step transaction so audit
// writes and cost lookups join that transaction; on a single-connection
// store, writes through the root handle would wait on the transaction
// forever.
func (s *Session) WithStore(st *store.Store) *Session {
	if st == nil || st == s.store {
		return s
	}
	clone := *s
	clone.store = st
	if oracle, ok := clone.oracle.(*StoreOracle); ok {
		clone.oracle = oracle.withStore(st)
	}
	return &clone
}

// ResolveTool turns a tool reference into a tool instance. Instances
// pass through; constructors are invoked with merged args (injecting
// workspace_dir when absent); names are looked up in the merged
// registry and resolved recursively.
func (s *Session) ResolveTool(value any, toolArgs map[string]any, workspaceDir string) (tools.Tool, error) {
	switch v := value.(type) {
	case tools.Tool:
		return v, nil
	case tools.Constructor:
		return v(s.mergedToolArgs(toolArgs, workspaceDir))
	case func(map[string]any) (tools.Tool, error):
		return v(s.mergedToolArgs(toolArgs, workspaceDir))
	case string:
		registry := s.toolRegistry()
		resolved, ok := registry[v]
		if !ok {
			names := lo.Keys(registry)
			sort.Strings(names)
			return nil, &UnknownToolError{Name: v, Known: names}
		}
		return s.ResolveTool(resolved, toolArgs, workspaceDir)
	default:
		return nil, fmt.Errorf("cannot resolve tool from %T", value)
	}
}

func (s *Session) toolRegistry() map[string]any {
	registry := make(map[string]any)
	for name, ctor := range tools.Builtins() {
		registry[name] = ctor
	}
	for name, value := range s.extraTools {
		registry[name] = value
	}
	return registry
}

func (s *Session) mergedToolArgs(toolArgs map[string]any, workspaceDir string) map[string]any {
	merged := make(map[string]any, len(toolArgs)+1)
	for k, v := range toolArgs {
		merged[k] = v
	}
	if _, ok := merged["workspace_dir"]; !ok {
		dir := workspaceDir
		if dir == "" {
			dir = s.cfg.DefaultWorkspaceDir
		}
		merged["workspace_dir"] = dir
	}
	return merged
}

// PromptParams is the payload of one structured prompt.
type PromptParams struct {
	Prompt        []string // Joined with newlines
	Schema        schema.Func
	CachedPrompt  []string
	Tools         []any
	ToolArgs      map[string]any
	WorkspaceDir  string // Overrides the session default for tool binding
	OnChatCreated func(chatID string)
}

// Prompt runs one structured exchange: creates an audited chat, binds
// tools, asks with the result-envelope schema, and folds the outcome
// into a ChatResponse. All failures are captured as error responses
// except AbortCostExceededError, which is returned as the error so it
// can propagate through the pipeline runtime.
func (s *Session) Prompt(ctx context.Context, params PromptParams) (resp *ChatResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			if abort, ok := r.(*AbortCostExceededError); ok {
				resp, err = nil, abort
				return
			}
			resp, err = ErrorResponse(fmt.Sprintf("%T: %v\n%s", r, r, debug.Stack())), nil
		}
	}()

	resolved := make([]any, 0, len(params.Tools))
	for _, ref := range params.Tools {
		tool, err := s.ResolveTool(ref, params.ToolArgs, params.WorkspaceDir)
		if err != nil {
			return ErrorResponse(errorClass(err)), nil
		}
		resolved = append(resolved, tool)
	}

	backend, err := s.newBackend(params.CachedPrompt)
	if err != nil {
		return ErrorResponse(errorClass(err)), nil
	}
	if len(resolved) > 0 {
		backend = backend.WithTools(resolved...)
	}

	model, err := s.store.FindOrCreateModel(ctx, s.cfg.Model.Name, s.cfg.Model.Provider)
	if err != nil {
		return ErrorResponse(errorClass(err)), nil
	}
	chatRow := &models.Chat{
		ID:      backend.ID(),
		Project: s.cfg.Project,
		RunID:   s.runID,
		ModelID: model.ID,
	}
	if err := s.store.CreateChat(ctx, chatRow); err != nil {
		return ErrorResponse(errorClass(err)), nil
	}
	if params.OnChatCreated != nil {
		params.OnChatCreated(chatRow.ID)
	}

	s.attachAudit(ctx, backend, chatRow.ID)

	client := chat.NewClient(backend)
	doc := schema.Result(schema.Build(params.Schema))
	answer, err := client.Get(ctx, strings.Join(params.Prompt, "\n"), doc, chat.GetOptions{})
	if err != nil {
		if abort, ok := err.(*AbortCostExceededError); ok {
			return nil, abort
		}
		return ErrorResponse(errorClass(err)), nil
	}

	if message, ok := answer[schema.ErrorKey].(string); ok && len(answer) == 1 {
		return ErrorResponse(message), nil
	}
	return SuccessResponse(answer), nil
}

// attachAudit wires message persistence and the spend gate onto a
// backend. The spend gate runs after each assistant message lands in
// the audit tables, so its own tokens count against the thresholds.
func (s *Session) attachAudit(ctx context.Context, backend chat.Backend, chatID string) {
	var pendingToolCalls []chat.ToolCallEvent

	backend.OnToolCall(func(ev chat.ToolCallEvent) {
		pendingToolCalls = append(pendingToolCalls, ev)
	})

	backend.OnNewMessage(func(m *chat.Message) {
		if err := s.persistMessage(ctx, chatID, m, nil); err != nil {
			s.log.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to persist user message")
		}
	})

	backend.OnEndMessage(func(m *chat.Message) {
		toolCalls := pendingToolCalls
		pendingToolCalls = nil
		if err := s.persistMessage(ctx, chatID, m, toolCalls); err != nil {
			s.log.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to persist assistant message")
		}
		s.checkSpend(ctx)
	})
}

func (s *Session) persistMessage(ctx context.Context, chatID string, m *chat.Message, toolCalls []chat.ToolCallEvent) error {
	row := &models.Message{
		ChatID:              chatID,
		Role:                models.MessageRole(m.Role),
		Content:             m.Content,
		InputTokens:         m.InputTokens,
		OutputTokens:        m.OutputTokens,
		CachedTokens:        m.CachedTokens,
		CacheCreationTokens: m.CacheCreationTokens,
	}
	if m.ContentRaw != nil {
		raw, err := json.Marshal(m.ContentRaw)
		if err == nil {
			row.ContentRaw = string(raw)
		}
	}
	if err := s.store.CreateMessage(ctx, row); err != nil {
		return err
	}
	for _, ev := range toolCalls {
		tc := &models.ToolCall{
			MessageID:  row.ID,
			ToolCallID: ev.ID,
			Name:       ev.Name,
			Arguments:  ev.Arguments,
		}
		if err := s.store.CreateToolCall(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

// checkSpend panics with AbortCostExceededError when either threshold
// is reached. The panic unwinds through the gateway and is converted
// back into an error by Prompt.
func (s *Session) checkSpend(ctx context.Context) {
	if s.cfg.MaxSpendProject <= 0 && s.cfg.MaxSpendRun <= 0 {
		return
	}
	projectCost, runCost, err := s.oracle.Cost(ctx, s.cfg.Project, s.runID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Cost oracle lookup failed, skipping spend check")
		return
	}
	if s.cfg.MaxSpendProject > 0 && projectCost >= s.cfg.MaxSpendProject {
		panic(&AbortCostExceededError{CostType: "project", CurrentCost: projectCost, Threshold: s.cfg.MaxSpendProject})
	}
	if s.cfg.MaxSpendRun > 0 && runCost >= s.cfg.MaxSpendRun {
		panic(&AbortCostExceededError{CostType: "run", CurrentCost: runCost, Threshold: s.cfg.MaxSpendRun})
	}
}

func errorClass(err error) string {
	return fmt.Sprintf("%T: %v", err, err)
}
