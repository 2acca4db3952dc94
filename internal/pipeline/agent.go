// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"fmt"
	"strings"

	"github.com/noldarim/weaver/internal/schema"
	"github.com/noldarim/weaver/internal/session"
)

// AgentStepParams tunes one agent step. The zero value derives the
// whole payload from the prompt pack under the step's name; a Block
// overrides everything; otherwise each set field overrides its derived
// counterpart, with PromptKey and CachedPromptKeys resolving through
// the pack.
type AgentStepParams struct {
	Prompt           []string
	PromptKey        string
	CachedPrompt     []string
	CachedPromptKeys []string
	Tools            []any
	ToolArgs         map[string]any
	Schema           schema.Func
	Block            func(c *StepContext) (*session.PromptParams, error)
}

func (p AgentStepParams) empty() bool {
	return p.Block == nil && len(p.Prompt) == 0 && p.PromptKey == "" &&
		len(p.CachedPrompt) == 0 && len(p.CachedPromptKeys) == 0 &&
		len(p.Tools) == 0 && len(p.ToolArgs) == 0 && p.Schema == nil
}

// AgentStep appends a step whose body prompts the model and applies
// the outcome: success updates the record, error fails the task. New
// chat ids are appended to the task's chat_ids either way.
func (f *Family) AgentStep(name string, params AgentStepParams) *Family {
	return f.Step(name, func(c *StepContext) error {
		payload, err := f.resolvePromptPayload(c, name, params, nil)
		if err != nil {
			return err
		}
		return c.runAgentPrompt(payload)
	})
}

// resolvePromptPayload applies the parameter precedence: block, then
// full derivation from the pack under key, then per-field overrides.
func (f *Family) resolvePromptPayload(c *StepContext, key string, params AgentStepParams, additional map[string]any) (*session.PromptParams, error) {
	if params.Block != nil {
		return params.Block(c)
	}
	if params.empty() {
		return f.derivePromptPayload(c, key, additional)
	}

	payload := &session.PromptParams{
		Prompt:       params.Prompt,
		CachedPrompt: params.CachedPrompt,
		Tools:        params.Tools,
		ToolArgs:     params.ToolArgs,
		Schema:       params.Schema,
	}
	attrs := c.promptAttrs(additional)
	if params.PromptKey != "" {
		rendered, err := f.pack.T(params.PromptKey, attrs)
		if err != nil {
			return nil, err
		}
		payload.Prompt = []string{rendered}
	}
	for _, cachedKey := range params.CachedPromptKeys {
		rendered, err := f.pack.T(cachedKey, attrs)
		if err != nil {
			return nil, err
		}
		payload.CachedPrompt = append(payload.CachedPrompt, rendered)
	}
	return payload, nil
}

// derivePromptPayload builds the full payload from the pack under key:
// "<key>.prompt" (required), "<key>.cached_prompts", "<key>.tools" and
// "<key>.response_schema" (each optional).
func (f *Family) derivePromptPayload(c *StepContext, key string, additional map[string]any) (*session.PromptParams, error) {
	if f.pack == nil {
		return nil, fmt.Errorf("agent step %q has no parameters and the family has no prompt pack", key)
	}
	attrs := c.promptAttrs(additional)

	prompt, err := f.pack.T(key+".prompt", attrs)
	if err != nil {
		return nil, err
	}
	payload := &session.PromptParams{Prompt: []string{prompt}}

	if f.pack.Exists(key + ".cached_prompts") {
		cached, err := f.pack.TList(key+".cached_prompts", attrs)
		if err != nil {
			return nil, err
		}
		payload.CachedPrompt = cached
	}
	if f.pack.Exists(key + ".tools") {
		toolNames, err := f.pack.TList(key+".tools", nil)
		if err != nil {
			return nil, err
		}
		for _, name := range toolNames {
			payload.Tools = append(payload.Tools, name)
		}
	}
	if f.pack.Exists(key + ".response_schema") {
		schemaFn, err := f.pack.SchemaFunc(key + ".response_schema")
		if err != nil {
			return nil, err
		}
		payload.Schema = schemaFn
	}
	return payload, nil
}

// promptAttrs merges the record's interpolation attributes with
// per-call additions such as feedback or diff.
func (c *StepContext) promptAttrs(additional map[string]any) map[string]any {
	attrs := make(map[string]any)
	if c.record != nil {
		for k, v := range c.record.I18nAttributes() {
			attrs[k] = v
		}
	}
	for k, v := range additional {
		attrs[k] = v
	}
	return attrs
}

// runAgentPrompt sends one payload through the session and applies the
// outcome to the record and task.
func (c *StepContext) runAgentPrompt(payload *session.PromptParams) error {
	if c.workspace != nil {
		payload.WorkspaceDir = c.workspace.Dir
	}
	payload.OnChatCreated = func(chatID string) {
		c.task.ChatIDs = append(c.task.ChatIDs, chatID)
	}

	result, err := c.session.Prompt(c.goCtx, *payload)
	if err != nil {
		return err
	}
	if result.Success() {
		if c.record == nil {
			return fmt.Errorf("agent prompt succeeded but the task has no record to update")
		}
		return c.record.Update(result.Data())
	}
	c.task.Fail(result.ErrorMessage())
	return nil
}

// AgentReviewLoop appends one step that alternates implementation
// prompts with review prompts until every reviewer approves, the try
// budget runs out, or the task fails. Reviewer feedback from a
// rejected round is joined with "\n---\n" and fed into the next round.
func (f *Family) AgentReviewLoop(name string, maxTries int, implement, iterate, review []string) *Family {
	if len(iterate) == 0 {
		iterate = implement
	}
	return f.Step(name, func(c *StepContext) error {
		if len(implement) == 0 && len(iterate) == 0 {
			return fmt.Errorf("agent review loop %q needs implement or iterate prompts", name)
		}

		tries := 0
		passed := false
		var feedbacks []string
		for tries < maxTries && !passed && !c.task.Failed() {
			prompts := iterate
			if tries == 0 {
				prompts = implement
			}
			for _, key := range prompts {
				payload, err := f.derivePromptPayload(c, key, map[string]any{
					"feedback": strings.Join(feedbacks, "\n---\n"),
				})
				if err != nil {
					return err
				}
				if err := c.runAgentPrompt(payload); err != nil {
					return err
				}
				if c.task.Failed() {
					break
				}
			}
			tries++
			if c.task.Failed() {
				break
			}

			feedbacks = nil
			diff, err := c.git.Diff(c.goCtx)
			if err != nil {
				return err
			}
			for _, key := range review {
				payload, err := f.derivePromptPayload(c, key, map[string]any{"diff": diff})
				if err != nil {
					return err
				}
				payload.Schema = func(b *schema.Builder) {
					b.Boolean("approved")
					b.String("feedback")
				}
				if c.workspace != nil {
					payload.WorkspaceDir = c.workspace.Dir
				}
				payload.OnChatCreated = func(chatID string) {
					c.task.ChatIDs = append(c.task.ChatIDs, chatID)
				}
				result, err := c.session.Prompt(c.goCtx, *payload)
				if err != nil {
					return err
				}
				if !result.Success() {
					c.task.Fail(result.ErrorMessage())
					break
				}
				if approved, _ := result.Data()["approved"].(bool); !approved {
					feedback, _ := result.Data()["feedback"].(string)
					feedbacks = append(feedbacks, feedback)
				}
			}
			if c.task.Failed() {
				break
			}
			if c.record != nil {
				if _, err := c.record.AddReview(diff, feedbacks); err != nil {
					return err
				}
			}
			passed = len(feedbacks) == 0
		}
		return nil
	})
}
