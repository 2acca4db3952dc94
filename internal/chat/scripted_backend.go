// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ScriptedBackend is a deterministic Backend for tests and dry runs.
// Replies come from a fixed script or a reply function; the last
// scripted reply is sticky once the script is exhausted.
type ScriptedBackend struct {
	mu       sync.Mutex
	id       string
	replies  []string
	replyFn  func(prompt string, call int) string
	usage    Message // Token counters copied onto every assistant reply
	tools    []any
	messages []*Message
	calls    int

	onNewMessage func(*Message)
	onEndMessage func(*Message)
	onToolCall   func(ToolCallEvent)
	onToolResult func(ToolResultEvent)
}

// NewScriptedBackend creates a backend that replays the given replies
// in order.
func NewScriptedBackend(replies ...string) *ScriptedBackend {
	return &ScriptedBackend{
		id:      uuid.NewString(),
		replies: replies,
	}
}

// ReplyFunc installs a function computing each reply from the prompt
// and the zero-based call number. It takes precedence over the script.
func (b *ScriptedBackend) ReplyFunc(fn func(prompt string, call int) string) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replyFn = fn
	return b
}

// WithUsage sets the token counters stamped on every assistant reply.
func (b *ScriptedBackend) WithUsage(input, output, cached, cacheCreation int) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = Message{
		InputTokens:         input,
		OutputTokens:        output,
		CachedTokens:        cached,
		CacheCreationTokens: cacheCreation,
	}
	return b
}

// Ask records the prompt, produces the next scripted reply, and fires
// the message hooks.
func (b *ScriptedBackend) Ask(ctx context.Context, prompt string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	call := b.calls
	b.calls++

	var content string
	switch {
	case b.replyFn != nil:
		content = b.replyFn(prompt, call)
	case len(b.replies) == 0:
		content = "{}"
	case call < len(b.replies):
		content = b.replies[call]
	default:
		content = b.replies[len(b.replies)-1]
	}

	user := &Message{Role: "user", Content: prompt}
	reply := &Message{
		Role:                "assistant",
		Content:             content,
		InputTokens:         b.usage.InputTokens,
		OutputTokens:        b.usage.OutputTokens,
		CachedTokens:        b.usage.CachedTokens,
		CacheCreationTokens: b.usage.CacheCreationTokens,
	}
	b.messages = append(b.messages, user, reply)
	onNew := b.onNewMessage
	onEnd := b.onEndMessage
	b.mu.Unlock()

	if onNew != nil {
		onNew(user)
	}
	if onEnd != nil {
		onEnd(reply)
	}
	return reply, nil
}

// WithTools records the bound tools and returns the backend.
func (b *ScriptedBackend) WithTools(tools ...any) Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools = append(b.tools, tools...)
	return b
}

// Tools returns the tools bound so far.
func (b *ScriptedBackend) Tools() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.tools...)
}

// AskCount returns how many times Ask was called.
func (b *ScriptedBackend) AskCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// OnNewMessage registers the new-message observer.
func (b *ScriptedBackend) OnNewMessage(fn func(*Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onNewMessage = fn
}

// OnEndMessage registers the end-of-message observer.
func (b *ScriptedBackend) OnEndMessage(fn func(*Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEndMessage = fn
}

// OnToolCall registers the tool-call observer.
func (b *ScriptedBackend) OnToolCall(fn func(ToolCallEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onToolCall = fn
}

// OnToolResult registers the tool-result observer.
func (b *ScriptedBackend) OnToolResult(fn func(ToolResultEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onToolResult = fn
}

// EmitToolCall fires the tool-call observer, for tests that script
// tool round-trips.
func (b *ScriptedBackend) EmitToolCall(ev ToolCallEvent) {
	b.mu.Lock()
	fn := b.onToolCall
	b.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// EmitToolResult fires the tool-result observer.
func (b *ScriptedBackend) EmitToolResult(ev ToolResultEvent) {
	b.mu.Lock()
	fn := b.onToolResult
	b.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// ID returns the conversation id.
func (b *ScriptedBackend) ID() string {
	return b.id
}

// Messages returns the transcript so far.
func (b *ScriptedBackend) Messages() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.messages...)
}
