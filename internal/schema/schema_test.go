// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderKeepsDeclarationOrder(t *testing.T) {
	doc := New().
		String("title", "the headline").
		Boolean("approved").
		Integer("rank").
		Number("score").
		StringArray("tags").
		Schema()

	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, false, doc["additionalProperties"])
	assert.Equal(t, []any{"title", "approved", "rank", "score", "tags"}, doc["required"])

	props := doc["properties"].(map[string]any)
	title := props["title"].(map[string]any)
	assert.Equal(t, "string", title["type"])
	assert.Equal(t, "the headline", title["description"])
	assert.Equal(t, "boolean", props["approved"].(map[string]any)["type"])
	assert.Equal(t, "array", props["tags"].(map[string]any)["type"])
}

func TestBuilderRedeclareReplacesInPlace(t *testing.T) {
	doc := New().
		String("a").
		String("b").
		Integer("a").
		Schema()

	assert.Equal(t, []any{"a", "b"}, doc["required"])
	props := doc["properties"].(map[string]any)
	assert.Equal(t, "integer", props["a"].(map[string]any)["type"])
}

func TestBuilderEnum(t *testing.T) {
	doc := New().Enum("mood", []string{"happy", "sad"}).Schema()
	props := doc["properties"].(map[string]any)
	mood := props["mood"].(map[string]any)
	assert.Equal(t, "string", mood["type"])
	assert.Equal(t, []any{"happy", "sad"}, mood["enum"])
}

func TestBuilderNestedObject(t *testing.T) {
	doc := New().
		Object("author", New().String("name").String("email")).
		Schema()

	props := doc["properties"].(map[string]any)
	author := props["author"].(map[string]any)
	assert.Equal(t, "object", author["type"])
	assert.Equal(t, []any{"name", "email"}, author["required"])
}

func TestBuildNilFunc(t *testing.T) {
	assert.Nil(t, Build(nil))

	doc := Build(func(b *Builder) { b.String("x") })
	require.NotNil(t, doc)
	assert.Equal(t, []any{"x"}, doc["required"])
}

func TestResultEnvelope(t *testing.T) {
	doc := Result(Build(func(b *Builder) { b.String("title") }))
	branches := doc["oneOf"].([]any)
	require.Len(t, branches, 2)

	success := branches[0].(map[string]any)
	assert.Equal(t, []any{"title"}, success["required"])

	failure := branches[1].(map[string]any)
	assert.Equal(t, []any{ErrorKey}, failure["required"])
	assert.Equal(t, false, failure["additionalProperties"])
}

func TestResultNilSuccessBranchAcceptsAnyObject(t *testing.T) {
	doc := Result(nil)
	branches := doc["oneOf"].([]any)
	require.Len(t, branches, 2)
	success := branches[0].(map[string]any)
	assert.Equal(t, map[string]any{"type": "object"}, success)
}
