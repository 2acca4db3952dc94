// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"time"
)

// MessageRole classifies a chat message
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Model identifies an LLM model row in the chat audit trail
type Model struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null;uniqueIndex:idx_models_provider_name" json:"name"`
	Provider  string    `gorm:"type:text;uniqueIndex:idx_models_provider_name" json:"provider"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Model
func (Model) TableName() string {
	return "models"
}

// Chat is one conversation with a model. Chats group the audit
// messages consumed by the cost oracle; the pipeline runtime never
// mutates them.
type Chat struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Project   string    `gorm:"type:text;index:idx_chats_project_run" json:"project"`
	RunID     string    `gorm:"type:text;index:idx_chats_project_run" json:"run_id"`
	ModelID   uint      `gorm:"index" json:"model_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	Messages []Message `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName returns the table name for Chat
func (Chat) TableName() string {
	return "chats"
}

// Message is one entry in a chat's transcript, with token counters for
// spend accounting.
type Message struct {
	ID                  uint        `gorm:"primaryKey" json:"id"`
	ChatID              string      `gorm:"type:text;not null;index" json:"chat_id"`
	Role                MessageRole `gorm:"type:text;not null" json:"role"`
	Content             string      `gorm:"type:text" json:"content"`
	ContentRaw          string      `gorm:"type:text" json:"content_raw"`
	InputTokens         int         `gorm:"type:integer" json:"input_tokens"`
	OutputTokens        int         `gorm:"type:integer" json:"output_tokens"`
	CachedTokens        int         `gorm:"type:integer" json:"cached_tokens"`
	CacheCreationTokens int         `gorm:"type:integer" json:"cache_creation_tokens"`
	CreatedAt           time.Time   `gorm:"autoCreateTime;index" json:"created_at"`

	ToolCalls []ToolCall `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"tool_calls,omitempty"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// ToolCall records one tool invocation requested by an assistant message
type ToolCall struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MessageID  uint      `gorm:"not null;index" json:"message_id"`
	ToolCallID string    `gorm:"type:text" json:"tool_call_id"`
	Name       string    `gorm:"type:text;not null" json:"name"`
	Arguments  string    `gorm:"type:text" json:"arguments"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for ToolCall
func (ToolCall) TableName() string {
	return "tool_calls"
}
