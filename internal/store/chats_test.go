// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/weaver/internal/models"
)

func seedChat(t *testing.T, st *Store, chatID, project, runID string, input, output int) {
	t.Helper()
	ctx := context.Background()

	model, err := st.FindOrCreateModel(ctx, "claude-sonnet-4-5", "anthropic")
	require.NoError(t, err)
	require.NoError(t, st.CreateChat(ctx, &models.Chat{ID: chatID, Project: project, RunID: runID, ModelID: model.ID}))
	require.NoError(t, st.CreateMessage(ctx, &models.Message{ChatID: chatID, Role: models.RoleUser, Content: "q"}))
	require.NoError(t, st.CreateMessage(ctx, &models.Message{
		ChatID:       chatID,
		Role:         models.RoleAssistant,
		Content:      "a",
		InputTokens:  input,
		OutputTokens: output,
	}))
}

func TestFindOrCreateModelIdempotent(t *testing.T) {
	st := openTestStore(t, false)
	ctx := context.Background()

	first, err := st.FindOrCreateModel(ctx, "claude-sonnet-4-5", "anthropic")
	require.NoError(t, err)
	second, err := st.FindOrCreateModel(ctx, "claude-sonnet-4-5", "anthropic")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestChatMessagesInOrder(t *testing.T) {
	st := openTestStore(t, false)
	seedChat(t, st, "chat-1", "proj", "run-1", 10, 20)

	msgs, err := st.ChatMessages(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
}

func TestTokenTotalsScopes(t *testing.T) {
	st := openTestStore(t, false)
	ctx := context.Background()

	seedChat(t, st, "chat-1", "proj", "run-1", 100, 50)
	seedChat(t, st, "chat-2", "proj", "run-2", 200, 80)
	seedChat(t, st, "chat-3", "other", "run-1", 999, 999)

	project, err := st.TokenTotalsByProject(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, 300, project.InputTokens)
	assert.Equal(t, 130, project.OutputTokens)

	run, err := st.TokenTotalsByRun(ctx, "proj", "run-1")
	require.NoError(t, err)
	assert.Equal(t, 100, run.InputTokens)
	assert.Equal(t, 50, run.OutputTokens)

	empty, err := st.TokenTotalsByRun(ctx, "proj", "missing")
	require.NoError(t, err)
	assert.Zero(t, empty.InputTokens)
}

func TestToolCallRows(t *testing.T) {
	st := openTestStore(t, false)
	ctx := context.Background()
	seedChat(t, st, "chat-1", "proj", "run-1", 1, 1)

	msgs, err := st.ChatMessages(ctx, "chat-1")
	require.NoError(t, err)
	require.NoError(t, st.CreateToolCall(ctx, &models.ToolCall{
		MessageID:  msgs[1].ID,
		ToolCallID: "tc-1",
		Name:       "read_file",
		Arguments:  `{"path":"main.go"}`,
	}))

	var count int64
	require.NoError(t, st.DB().Model(&models.ToolCall{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
