// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline executes ordered, resumable step sequences against
// one task and its record. Progress is tracked in the task's
// completed_steps, one store transaction per step, so a crashed run
// resumes at the first undone step.
package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noldarim/weaver/internal/i18n"
	"github.com/noldarim/weaver/internal/logger"
)

// StepFunc is the body of one pipeline step.
type StepFunc func(c *StepContext) error

type step struct {
	name string
	fn   StepFunc
}

// Family is a declared pipeline: an ordered list of named steps plus
// failure callbacks, bound to a prompt pack for agent steps.
type Family struct {
	name      string
	pack      *i18n.Service
	steps     []step
	onFailure []StepFunc
	log       zerolog.Logger
}

// New declares an empty pipeline family. The pack may be nil when no
// agent step derives its payload from prompt-pack keys.
func New(name string, pack *i18n.Service) *Family {
	return &Family{
		name: name,
		pack: pack,
		log:  logger.GetPipelineLogger().With().Str("family", name).Logger(),
	}
}

// Name returns the family name.
func (f *Family) Name() string {
	return f.name
}

// Step appends a named step. Duplicate step names panic at declaration
// time since completed_steps bookkeeping requires unique names.
func (f *Family) Step(name string, fn StepFunc) *Family {
	for _, s := range f.steps {
		if s.name == name {
			panic(fmt.Sprintf("pipeline %s: duplicate step name %q", f.name, name))
		}
	}
	f.steps = append(f.steps, step{name: name, fn: fn})
	return f
}

// OnFailure appends a callback run when the task is marked failed,
// in declaration order.
func (f *Family) OnFailure(fn StepFunc) *Family {
	f.onFailure = append(f.onFailure, fn)
	return f
}

// StepNames returns the declared step names in order.
func (f *Family) StepNames() []string {
	names := make([]string, len(f.steps))
	for i, s := range f.steps {
		names[i] = s.name
	}
	return names
}
