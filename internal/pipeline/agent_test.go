// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/weaver/internal/i18n"
	"github.com/noldarim/weaver/internal/session"
)

func draftPack() *i18n.Service {
	return i18n.FromMap(map[string]any{
		"draft": map[string]any{
			"prompt": "Draft a value for item {{.id}}.",
			"response_schema": []any{
				map[string]any{"name": "attr", "type": "string"},
			},
		},
		"work": map[string]any{
			"implement": map[string]any{
				"prompt": "Implement the change. Feedback so far: {{.feedback}}",
				"response_schema": []any{
					map[string]any{"name": "attr", "type": "string"},
				},
			},
			"review": map[string]any{
				"prompt": "Review this diff:\n{{.diff}}",
			},
		},
	})
}

func TestAgentStepUpdatesRecord(t *testing.T) {
	env := newPipelineEnv(t, `{"attr": "drafted"}`)
	family := New("item", draftPack()).AgentStep("draft", AgentStepParams{})

	require.NoError(t, family.Call(context.Background(), env.task, env.session, env.git))

	require.NoError(t, env.record.Reload())
	assert.Equal(t, "drafted", env.record.GetString("attr"))
	fresh := env.reload(t)
	assert.True(t, fresh.Done())
	assert.Len(t, fresh.ChatIDs, 1)
}

// The store runs on a single pinned connection, so audit writes made
// while a step transaction holds it must go through the transaction
// handle or the step never finishes.
func TestAgentStepAuditJoinsStepTransaction(t *testing.T) {
	env := newPipelineEnv(t, `{"attr": "audited"}`)
	family := New("item", draftPack()).AgentStep("draft", AgentStepParams{})

	done := make(chan error, 1)
	go func() {
		done <- family.Call(context.Background(), env.task, env.session, env.git)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent step blocked on its own store connection")
	}

	fresh := env.reload(t)
	assert.True(t, fresh.Done())
	require.Len(t, fresh.ChatIDs, 1)

	// The chat and both exchange messages committed with the step.
	msgs, err := env.store.ChatMessages(context.Background(), fresh.ChatIDs[0])
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestAgentStepErrorEnvelopeFailsTask(t *testing.T) {
	env := newPipelineEnv(t, `{"unable_to_fulfill_request_error": "contradictory request"}`)
	family := New("item", draftPack()).AgentStep("draft", AgentStepParams{})

	require.NoError(t, family.Call(context.Background(), env.task, env.session, env.git))

	fresh := env.reload(t)
	assert.True(t, fresh.Failed())
	assert.Equal(t, "contradictory request", fresh.ErrorMessage)
	assert.Len(t, fresh.ChatIDs, 1)
}

func TestAgentStepMissingPackKey(t *testing.T) {
	env := newPipelineEnv(t)
	family := New("item", i18n.FromMap(map[string]any{})).AgentStep("draft", AgentStepParams{})

	require.NoError(t, family.Call(context.Background(), env.task, env.session, env.git))

	fresh := env.reload(t)
	assert.True(t, fresh.Failed())
	assert.Contains(t, fresh.ErrorMessage, "draft.prompt")
}

func TestAgentStepBlockOverridesEverything(t *testing.T) {
	env := newPipelineEnv(t, `{"attr": "from block"}`)
	family := New("item", nil).AgentStep("draft", AgentStepParams{
		Block: func(c *StepContext) (*session.PromptParams, error) {
			return &session.PromptParams{Prompt: []string{"custom prompt"}}, nil
		},
	})

	require.NoError(t, family.Call(context.Background(), env.task, env.session, env.git))

	require.NoError(t, env.record.Reload())
	assert.Equal(t, "from block", env.record.GetString("attr"))
}

func TestAgentReviewLoopPassesOnSecondTry(t *testing.T) {
	env := newPipelineEnv(t,
		`{"attr": "x_1"}`,
		`{"approved": false, "feedback": "call it x_2 instead"}`,
		`{"attr": "x_2"}`,
		`{"approved": true, "feedback": ""}`,
	)
	family := New("item", draftPack()).
		AgentReviewLoop("work", 3, []string{"work.implement"}, nil, []string{"work.review"})

	require.NoError(t, family.Call(context.Background(), env.task, env.session, env.git))

	require.NoError(t, env.record.Reload())
	assert.Equal(t, "x_2", env.record.GetString("attr"))
	assert.Equal(t, 4, env.asks)
	fresh := env.reload(t)
	assert.True(t, fresh.Done())
	assert.Len(t, fresh.ChatIDs, 4)
}

func TestAgentReviewLoopFeedbackReachesNextRound(t *testing.T) {
	env := newPipelineEnv(t,
		`{"attr": "x_1"}`,
		`{"approved": false, "feedback": "needs work"}`,
		`{"attr": "x_2"}`,
		`{"approved": true, "feedback": ""}`,
	)
	family := New("item", draftPack()).
		AgentReviewLoop("work", 3, []string{"work.implement"}, nil, []string{"work.review"})

	require.NoError(t, family.Call(context.Background(), env.task, env.session, env.git))

	// The third prompt is the second implement round and must carry the
	// reviewer's feedback.
	require.GreaterOrEqual(t, len(env.prompts), 3)
	assert.Contains(t, env.prompts[2], "needs work")
}

func TestAgentReviewLoopStopsAtTryBudget(t *testing.T) {
	env := newPipelineEnv(t,
		`{"attr": "x_1"}`,
		`{"approved": false, "feedback": "no"}`,
		`{"attr": "x_2"}`,
		`{"approved": false, "feedback": "still no"}`,
	)
	family := New("item", draftPack()).
		AgentReviewLoop("work", 2, []string{"work.implement"}, nil, []string{"work.review"})

	require.NoError(t, family.Call(context.Background(), env.task, env.session, env.git))

	// Two implement rounds, two review rounds, then the budget is spent.
	assert.Equal(t, 4, env.asks)
	assert.True(t, env.reload(t).Done())
}

func TestAgentReviewLoopFailedImplementStopsLoop(t *testing.T) {
	env := newPipelineEnv(t, `{"unable_to_fulfill_request_error": "cannot"}`)
	family := New("item", draftPack()).
		AgentReviewLoop("work", 3, []string{"work.implement"}, nil, []string{"work.review"})

	require.NoError(t, family.Call(context.Background(), env.task, env.session, env.git))

	assert.Equal(t, 1, env.asks)
	fresh := env.reload(t)
	assert.True(t, fresh.Failed())
	assert.Equal(t, "cannot", fresh.ErrorMessage)
}
