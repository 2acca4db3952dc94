// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/noldarim/weaver/internal/i18n"
	"github.com/noldarim/weaver/internal/pipeline"
	"github.com/noldarim/weaver/internal/store"
)

// PipelineFile is the YAML declaration of one runnable pipeline: the
// record table it operates on, the ordered steps, and optional seed
// rows enqueued on first run.
type PipelineFile struct {
	Record  string           `yaml:"record"`
	Table   string           `yaml:"table"`
	Columns []ColumnDef      `yaml:"columns"`
	Steps   []StepDef        `yaml:"steps"`
	Seed    []map[string]any `yaml:"seed"`
}

// ColumnDef declares one record column.
type ColumnDef struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// StepDef declares one pipeline step. Kind "agent" derives its payload
// from the prompt pack under the step name; kind "review" runs a
// review loop over the listed prompt keys.
type StepDef struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	MaxTries  int      `yaml:"max_tries"`
	Implement []string `yaml:"implement"`
	Iterate   []string `yaml:"iterate"`
	Review    []string `yaml:"review"`
}

// LoadPipelineFile reads and validates a pipeline declaration.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	var pf PipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file: %w", err)
	}
	if pf.Record == "" {
		return nil, fmt.Errorf("pipeline file: record is required")
	}
	if len(pf.Steps) == 0 {
		return nil, fmt.Errorf("pipeline file: at least one step is required")
	}
	for _, s := range pf.Steps {
		if s.Name == "" {
			return nil, fmt.Errorf("pipeline file: every step needs a name")
		}
		switch s.Kind {
		case "", "agent":
		case "review":
			if len(s.Implement) == 0 && len(s.Iterate) == 0 {
				return nil, fmt.Errorf("pipeline file: review step %q needs implement or iterate prompts", s.Name)
			}
		default:
			return nil, fmt.Errorf("pipeline file: step %q has unknown kind %q", s.Name, s.Kind)
		}
	}
	return &pf, nil
}

// RecordDef converts the declaration into a store record definition.
func (pf *PipelineFile) RecordDef() (store.RecordDef, error) {
	def := store.RecordDef{Name: pf.Record, Table: pf.Table}
	for _, c := range pf.Columns {
		col, err := columnFor(c)
		if err != nil {
			return store.RecordDef{}, err
		}
		def.Columns = append(def.Columns, col)
	}
	return def, nil
}

func columnFor(c ColumnDef) (store.Column, error) {
	switch c.Type {
	case "string", "":
		return store.String(c.Name), nil
	case "text":
		return store.Text(c.Name), nil
	case "integer":
		return store.Integer(c.Name), nil
	case "float":
		return store.Float(c.Name), nil
	case "boolean":
		return store.Boolean(c.Name), nil
	case "time":
		return store.Time(c.Name), nil
	case "json":
		return store.JSON(c.Name), nil
	default:
		return store.Column{}, fmt.Errorf("pipeline file: column %q has unknown type %q", c.Name, c.Type)
	}
}

// BuildFamily assembles the pipeline family from the declared steps.
func (pf *PipelineFile) BuildFamily(pack *i18n.Service) *pipeline.Family {
	family := pipeline.New(pf.Record, pack)
	for _, s := range pf.Steps {
		switch s.Kind {
		case "review":
			maxTries := s.MaxTries
			if maxTries <= 0 {
				maxTries = 3
			}
			family.AgentReviewLoop(s.Name, maxTries, s.Implement, s.Iterate, s.Review)
		default:
			family.AgentStep(s.Name, pipeline.AgentStepParams{})
		}
	}
	return family
}
