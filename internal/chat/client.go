// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/noldarim/weaver/internal/logger"
)

// maxAttempts bounds how often one answer is re-asked before the
// exchange is declared invalid.
const maxAttempts = 5

const jsonInstruction = "Reply with a single strict JSON object and nothing else. " +
	"No prose before or after the JSON."

// Client wraps a conversational backend with the structured-output
// operations: ask, get (validate + retry + confirm), refine.
type Client struct {
	backend Backend
	log     zerolog.Logger
}

// NewClient creates a gateway over the given backend.
func NewClient(backend Backend) *Client {
	return &Client{
		backend: backend,
		log:     logger.GetChatLogger(),
	}
}

// Backend returns the wrapped conversation backend.
func (c *Client) Backend() Backend {
	return c.backend
}

// Ask is a pass-through to the backend.
func (c *Client) Ask(ctx context.Context, prompt string) (*Message, error) {
	return c.backend.Ask(ctx, prompt)
}

// GetOptions tunes the confirmation behavior of Get. Zero values mean
// a single answer with no consensus requirement.
type GetOptions struct {
	Confirm int // Identical copies required to accept an answer
	OutOf   int // Total answer budget
}

func (o GetOptions) normalized() GetOptions {
	if o.Confirm <= 0 {
		o.Confirm = 1
	}
	if o.OutOf <= 0 {
		o.OutOf = 1
	}
	return o
}

// Get asks for a JSON reply conforming to schemaDoc (nil skips
// validation), retrying malformed replies up to the attempt budget,
// and collecting answers until one accumulates the required number of
// identical copies.
func (c *Client) Get(ctx context.Context, prompt string, schemaDoc map[string]any, opts GetOptions) (map[string]any, error) {
	opts = opts.normalized()

	compiled, err := compileSchema(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}

	wrapper := buildWrapper(prompt, schemaDoc)

	counts := make(map[string]int)
	answers := make(map[string]map[string]any)
	for i := 0; i < opts.OutOf; i++ {
		answer, err := c.askValidated(ctx, wrapper, compiled)
		if err != nil {
			return nil, err
		}
		key, err := canonicalKey(answer)
		if err != nil {
			return nil, err
		}
		counts[key]++
		answers[key] = answer
		if counts[key] >= opts.Confirm {
			return answers[key], nil
		}
	}
	return nil, &NoConfirmationError{Confirm: opts.Confirm, OutOf: opts.OutOf}
}

// Refine runs Get the given number of times, framing each round after
// the first with the previous answer, and returns the last answer.
func (c *Client) Refine(ctx context.Context, prompt string, schemaDoc map[string]any, times int) (map[string]any, error) {
	if times <= 0 {
		times = 2
	}
	var answer map[string]any
	for i := 0; i < times; i++ {
		round := prompt
		if answer != nil {
			prior, err := json.Marshal(answer)
			if err != nil {
				return nil, err
			}
			round = fmt.Sprintf("Here is your previous answer:\n%s\n\nImprove it.\n\n%s", prior, prompt)
		}
		var err error
		answer, err = c.Get(ctx, round, schemaDoc, GetOptions{})
		if err != nil {
			return nil, err
		}
	}
	return answer, nil
}

// askValidated sends the wrapper message and re-asks with corrective
// feedback until the reply parses and validates, up to maxAttempts.
func (c *Client) askValidated(ctx context.Context, wrapper string, compiled *jsonschema.Schema) (map[string]any, error) {
	message := wrapper
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reply, err := c.backend.Ask(ctx, message)
		if err != nil {
			return nil, err
		}

		content := stripFence(reply.Content)

		var instance any
		if err := json.Unmarshal([]byte(content), &instance); err != nil {
			lastErr = err
			c.log.Debug().Int("attempt", attempt).Err(err).Msg("Reply was not valid JSON")
			message = fmt.Sprintf("Your reply was not valid JSON (%v). %s", err, jsonInstruction)
			continue
		}

		if compiled != nil {
			if err := compiled.Validate(instance); err != nil {
				lastErr = err
				c.log.Debug().Int("attempt", attempt).Err(err).Msg("Reply failed schema validation")
				message = fmt.Sprintf("Your reply did not match the required schema:\n%v\n\nReply with corrected JSON only.", err)
				continue
			}
		}

		answer, ok := instance.(map[string]any)
		if !ok {
			lastErr = fmt.Errorf("reply is %T, expected a JSON object", instance)
			message = fmt.Sprintf("Your reply must be a JSON object. %s", jsonInstruction)
			continue
		}
		return answer, nil
	}
	return nil, &InvalidResponseError{Attempts: maxAttempts, LastErr: lastErr}
}

// buildWrapper composes the fixed instruction block, the schema (when
// present), and the caller's prompt.
func buildWrapper(prompt string, schemaDoc map[string]any) string {
	var b strings.Builder
	b.WriteString(jsonInstruction)
	b.WriteString("\n\n")
	if schemaDoc != nil {
		rendered, err := json.MarshalIndent(schemaDoc, "", "  ")
		if err == nil {
			b.WriteString("The reply must conform to this JSON schema:\n")
			b.Write(rendered)
			b.WriteString("\n\n")
		}
	}
	b.WriteString(prompt)
	return b.String()
}

// stripFence removes one leading ```json fence and one trailing ```
// fence. The two strips are independent, so a reply missing either
// half still sheds the other. Deeper fences are content.
func stripFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if rest, ok := strings.CutPrefix(trimmed, "```json"); ok {
		trimmed = strings.TrimSpace(rest)
	}
	if cut, ok := strings.CutSuffix(trimmed, "```"); ok {
		trimmed = strings.TrimSpace(cut)
	}
	return trimmed
}

func compileSchema(doc map[string]any) (*jsonschema.Schema, error) {
	if doc == nil {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("response.json")
}

// canonicalKey renders an answer with sorted keys so identical answers
// compare equal regardless of field order in the reply.
func canonicalKey(answer map[string]any) (string, error) {
	data, err := json.Marshal(answer)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
