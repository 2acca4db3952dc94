// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package anthropic adapts the Anthropic Messages API to the chat
// Backend boundary.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noldarim/weaver/internal/chat"
	"github.com/noldarim/weaver/internal/logger"
	"github.com/noldarim/weaver/internal/tools"
)

// Config configures one conversation backend.
type Config struct {
	APIKey    string // Empty = read from APIKeyEnv
	APIKeyEnv string // Defaults to ANTHROPIC_API_KEY
	Model     string
	MaxTokens int
	System    []string // Cached system prompt blocks
}

// Backend is a chat.Backend over the Anthropic Messages API. One
// Backend holds one conversation's history.
type Backend struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	id        string
	log       zerolog.Logger

	mu         sync.Mutex
	system     []anthropic.TextBlockParam
	history    []anthropic.MessageParam
	messages   []*chat.Message
	tools      map[string]tools.Tool
	toolParams []anthropic.ToolUnionParam

	onNewMessage func(*chat.Message)
	onEndMessage func(*chat.Message)
	onToolCall   func(chat.ToolCallEvent)
	onToolResult func(chat.ToolResultEvent)
}

// New creates a conversation backend. The API key comes from the
// config or, preferentially, from the environment.
func New(cfg Config) (*Backend, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "ANTHROPIC_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: no API key (set %s or provide via config)", keyEnv)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	b := &Backend{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(maxTokens),
		id:        uuid.NewString(),
		log:       logger.GetChatLogger().With().Str("component", "anthropic").Logger(),
	}
	for _, s := range cfg.System {
		b.system = append(b.system, anthropic.TextBlockParam{Text: s})
	}
	return b, nil
}

// maxToolRounds bounds the tool-use loop of one Ask so a model that
// never settles on a text answer cannot spin forever.
const maxToolRounds = 16

// Ask appends a user message, runs model turns with transport retries
// until the model stops asking for tools, and returns the assistant
// reply. Token counts on the reply cover every turn of the exchange.
func (b *Backend) Ask(ctx context.Context, prompt string) (*chat.Message, error) {
	b.mu.Lock()
	b.history = append(b.history, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	params := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		Messages:  append([]anthropic.MessageParam(nil), b.history...),
	}
	if len(b.system) > 0 {
		params.System = append([]anthropic.TextBlockParam(nil), b.system...)
	}
	if len(b.toolParams) > 0 {
		params.Tools = append([]anthropic.ToolUnionParam(nil), b.toolParams...)
	}
	userMsg := &chat.Message{Role: "user", Content: prompt}
	b.messages = append(b.messages, userMsg)
	onNew := b.onNewMessage
	onEnd := b.onEndMessage
	b.mu.Unlock()

	if onNew != nil {
		onNew(userMsg)
	}

	resp, err := b.callWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}
	reply := &chat.Message{Role: "assistant"}
	addUsage(reply, resp)

	for rounds := 0; resp.StopReason == "tool_use"; rounds++ {
		if rounds == maxToolRounds {
			return nil, fmt.Errorf("anthropic: tool loop exceeded %d rounds", maxToolRounds)
		}
		results, err := b.runToolCalls(ctx, resp)
		if err != nil {
			return nil, err
		}
		turn := []anthropic.MessageParam{resp.ToParam(), anthropic.NewUserMessage(results...)}
		params.Messages = append(params.Messages, turn...)
		b.mu.Lock()
		b.history = append(b.history, turn...)
		b.mu.Unlock()

		resp, err = b.callWithRetry(ctx, params)
		if err != nil {
			return nil, err
		}
		addUsage(reply, resp)
	}

	text, err := firstTextBlock(resp)
	if err != nil {
		return nil, err
	}
	reply.Content = text
	reply.ContentRaw = resp.Content

	b.mu.Lock()
	b.history = append(b.history, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
	b.messages = append(b.messages, reply)
	b.mu.Unlock()

	// The spend hook runs here, after usage is known.
	if onEnd != nil {
		onEnd(reply)
	}
	return reply, nil
}

// runToolCalls executes every tool_use block of a turn, firing the
// observers around each execution, and returns the tool_result blocks
// for the follow-up user message.
func (b *Backend) runToolCalls(ctx context.Context, resp *anthropic.Message) ([]anthropic.ContentBlockParamUnion, error) {
	b.mu.Lock()
	bound := b.tools
	onCall := b.onToolCall
	onResult := b.onToolResult
	b.mu.Unlock()

	var results []anthropic.ContentBlockParamUnion
	for _, block := range resp.Content {
		use, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		args := use.JSON.Input.Raw()
		if onCall != nil {
			onCall(chat.ToolCallEvent{ID: use.ID, Name: use.Name, Arguments: args})
		}
		content, isError := executeTool(ctx, bound[use.Name], use.Name, args)
		if isError {
			b.log.Warn().Str("tool", use.Name).Str("error", content).Msg("Tool call failed")
		}
		if onResult != nil {
			onResult(chat.ToolResultEvent{ID: use.ID, Name: use.Name, Content: content, IsError: isError})
		}
		results = append(results, anthropic.NewToolResultBlock(use.ID, content, isError))
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("anthropic: tool_use stop reason without tool_use blocks")
	}
	return results, nil
}

// executeTool runs one bound tool. Failures are reported back to the
// model as error results rather than aborting the conversation.
func executeTool(ctx context.Context, tool tools.Tool, name, rawArgs string) (string, bool) {
	if tool == nil {
		return fmt.Sprintf("tool %q is not bound to this conversation", name), true
	}
	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return fmt.Sprintf("invalid tool arguments: %v", err), true
		}
	}
	out, err := tool.Call(ctx, args)
	if err != nil {
		return err.Error(), true
	}
	return out, false
}

func addUsage(m *chat.Message, resp *anthropic.Message) {
	m.InputTokens += int(resp.Usage.InputTokens)
	m.OutputTokens += int(resp.Usage.OutputTokens)
	m.CachedTokens += int(resp.Usage.CacheReadInputTokens)
	m.CacheCreationTokens += int(resp.Usage.CacheCreationInputTokens)
}

func (b *Backend) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	var resp *anthropic.Message
	operation := func() error {
		var err error
		resp, err = b.client.Messages.New(ctx, params)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		b.log.Warn().Err(err).Msg("Anthropic request failed, retrying")
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	return resp, nil
}

func firstTextBlock(msg *anthropic.Message) (string, error) {
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic: response carried no text block")
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == 429 || apierr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// WithTools binds resolved tools to the conversation. Bound tools are
// advertised on every request and executed in-process when the model
// asks for them. References the session did not resolve to a Tool are
// logged and skipped.
func (b *Backend) WithTools(refs ...any) chat.Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tools == nil {
		b.tools = make(map[string]tools.Tool, len(refs))
	}
	for _, ref := range refs {
		tool, ok := ref.(tools.Tool)
		if !ok {
			b.log.Warn().Str("type", fmt.Sprintf("%T", ref)).Msg("Ignoring unresolved tool reference")
			continue
		}
		b.tools[tool.Name()] = tool
		b.toolParams = append(b.toolParams, toolParamFor(tool))
	}
	return b
}

// toolParamFor maps a tool's JSON-schema document onto the wire tool
// declaration.
func toolParamFor(tool tools.Tool) anthropic.ToolUnionParam {
	doc := tool.InputSchema()
	input := anthropic.ToolInputSchemaParam{}
	if props, ok := doc["properties"]; ok {
		input.Properties = props
	}
	switch required := doc["required"].(type) {
	case []string:
		input.Required = required
	case []any:
		for _, v := range required {
			if name, ok := v.(string); ok {
				input.Required = append(input.Required, name)
			}
		}
	}
	return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
		Name:        tool.Name(),
		Description: anthropic.String(tool.Description()),
		InputSchema: input,
	}}
}

// OnNewMessage registers the new-message observer.
func (b *Backend) OnNewMessage(fn func(*chat.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onNewMessage = fn
}

// OnEndMessage registers the end-of-message observer.
func (b *Backend) OnEndMessage(fn func(*chat.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEndMessage = fn
}

// OnToolCall registers the tool-call observer.
func (b *Backend) OnToolCall(fn func(chat.ToolCallEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onToolCall = fn
}

// OnToolResult registers the tool-result observer.
func (b *Backend) OnToolResult(fn func(chat.ToolResultEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onToolResult = fn
}

// ID returns the conversation id.
func (b *Backend) ID() string {
	return b.id
}

// Messages returns the transcript so far.
func (b *Backend) Messages() []*chat.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*chat.Message(nil), b.messages...)
}
