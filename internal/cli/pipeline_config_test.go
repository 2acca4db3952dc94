// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePipelineFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validPipeline = `
record: article
table: articles
columns:
  - name: title
  - name: body
    type: text
  - name: rank
    type: integer
steps:
  - name: draft
  - name: polish
    kind: review
    max_tries: 5
    implement: [polish.implement]
    iterate: [polish.iterate]
    review: [polish.review]
seed:
  - title: first
  - title: second
`

func TestLoadPipelineFile(t *testing.T) {
	pf, err := LoadPipelineFile(writePipelineFile(t, validPipeline))
	require.NoError(t, err)

	assert.Equal(t, "article", pf.Record)
	assert.Equal(t, "articles", pf.Table)
	require.Len(t, pf.Steps, 2)
	assert.Equal(t, "draft", pf.Steps[0].Name)
	assert.Equal(t, "review", pf.Steps[1].Kind)
	assert.Equal(t, 5, pf.Steps[1].MaxTries)
	assert.Len(t, pf.Seed, 2)
}

func TestLoadPipelineFileValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing file", "", "failed to read"},
		{"missing record", "steps:\n  - name: s\n", "record is required"},
		{"no steps", "record: article\n", "at least one step"},
		{"unnamed step", "record: article\nsteps:\n  - kind: agent\n", "needs a name"},
		{"unknown kind", "record: article\nsteps:\n  - name: s\n    kind: shell\n", "unknown kind"},
		{"review without prompts", "record: article\nsteps:\n  - name: s\n    kind: review\n", "needs implement or iterate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.yaml")
			if tc.content != "" {
				path = writePipelineFile(t, tc.content)
			}
			_, err := LoadPipelineFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRecordDefMapsColumnTypes(t *testing.T) {
	pf, err := LoadPipelineFile(writePipelineFile(t, validPipeline))
	require.NoError(t, err)

	def, err := pf.RecordDef()
	require.NoError(t, err)
	assert.Equal(t, "article", def.Name)
	assert.Equal(t, "articles", def.Table)
	require.Len(t, def.Columns, 3)
	assert.Equal(t, "title", def.Columns[0].Name)
	assert.Equal(t, "body", def.Columns[1].Name)
	assert.Equal(t, "rank", def.Columns[2].Name)
}

func TestRecordDefRejectsUnknownColumnType(t *testing.T) {
	pf := &PipelineFile{
		Record:  "article",
		Columns: []ColumnDef{{Name: "blob", Type: "binary"}},
	}
	_, err := pf.RecordDef()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestBuildFamilyDeclaresSteps(t *testing.T) {
	pf, err := LoadPipelineFile(writePipelineFile(t, validPipeline))
	require.NoError(t, err)

	family := pf.BuildFamily(nil)
	assert.Equal(t, "article", family.Name())
	assert.Equal(t, []string{"draft", "polish"}, family.StepNames())
}
