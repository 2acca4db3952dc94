// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat turns a conversational backend into a schema-validated
// structured-output function with retry, confirmation, and refinement.
package chat

import (
	"context"
)

// Message is one entry in a conversation buffer.
type Message struct {
	Role                string
	Content             string
	ContentRaw          any
	InputTokens         int
	OutputTokens        int
	CachedTokens        int
	CacheCreationTokens int
}

// ToolCallEvent describes a tool invocation requested by the model.
type ToolCallEvent struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResultEvent describes the outcome of a tool invocation.
type ToolResultEvent struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// Backend is the narrow boundary a vendor chat client must implement.
// A backend owns one conversation: Ask appends a user message, runs a
// model turn (including any tool round-trips), and returns the final
// assistant message.
type Backend interface {
	Ask(ctx context.Context, prompt string) (*Message, error)
	WithTools(tools ...any) Backend
	OnNewMessage(fn func(*Message))
	OnEndMessage(fn func(*Message))
	OnToolCall(fn func(ToolCallEvent))
	OnToolResult(fn func(ToolResultEvent))
	ID() string
	Messages() []*Message
}
