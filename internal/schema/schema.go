// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package schema provides a small explicit builder for the JSON
// schemas that structured-output prompts are validated against.
package schema

// Builder accumulates the properties of one JSON object schema. Every
// declared property is required; replies may not carry extra keys.
type Builder struct {
	order      []string
	properties map[string]map[string]any
}

// New returns an empty object schema builder.
func New() *Builder {
	return &Builder{properties: make(map[string]map[string]any)}
}

func (b *Builder) add(name string, prop map[string]any) *Builder {
	if _, exists := b.properties[name]; !exists {
		b.order = append(b.order, name)
	}
	b.properties[name] = prop
	return b
}

// String declares a required string property.
func (b *Builder) String(name string, description ...string) *Builder {
	return b.add(name, withDescription(map[string]any{"type": "string"}, description))
}

// Boolean declares a required boolean property.
func (b *Builder) Boolean(name string, description ...string) *Builder {
	return b.add(name, withDescription(map[string]any{"type": "boolean"}, description))
}

// Integer declares a required integer property.
func (b *Builder) Integer(name string, description ...string) *Builder {
	return b.add(name, withDescription(map[string]any{"type": "integer"}, description))
}

// Number declares a required numeric property.
func (b *Builder) Number(name string, description ...string) *Builder {
	return b.add(name, withDescription(map[string]any{"type": "number"}, description))
}

// StringArray declares a required array-of-strings property.
func (b *Builder) StringArray(name string, description ...string) *Builder {
	return b.add(name, withDescription(map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}, description))
}

// Object declares a required nested object property.
func (b *Builder) Object(name string, nested *Builder, description ...string) *Builder {
	return b.add(name, withDescription(nested.Schema(), description))
}

// Enum declares a required string property restricted to the given values.
func (b *Builder) Enum(name string, values []string, description ...string) *Builder {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return b.add(name, withDescription(map[string]any{"type": "string", "enum": vals}, description))
}

func withDescription(prop map[string]any, description []string) map[string]any {
	if len(description) > 0 && description[0] != "" {
		prop["description"] = description[0]
	}
	return prop
}

// Schema renders the accumulated JSON schema document.
func (b *Builder) Schema() map[string]any {
	props := make(map[string]any, len(b.properties))
	required := make([]any, 0, len(b.order))
	for _, name := range b.order {
		props[name] = b.properties[name]
		required = append(required, name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// Func declares a schema inline, mirroring the way agent steps pass
// schemas around: a callable that populates a builder.
type Func func(b *Builder)

// Build runs a schema function and renders its document. A nil
// function yields a nil schema (validation skipped).
func Build(fn Func) map[string]any {
	if fn == nil {
		return nil
	}
	b := New()
	fn(b)
	return b.Schema()
}

// ErrorKey is the property carried by the error branch of a result
// envelope.
const ErrorKey = "unable_to_fulfill_request_error"

// Result wraps a success schema in a oneOf envelope: either the
// caller's shape, or an error object explaining why the request could
// not be fulfilled. Callers that pass nil get an envelope whose
// success branch is any object.
func Result(success map[string]any) map[string]any {
	if success == nil {
		success = map[string]any{"type": "object"}
	}
	errorBranch := map[string]any{
		"type": "object",
		"properties": map[string]any{
			ErrorKey: map[string]any{"type": "string"},
		},
		"required":             []any{ErrorKey},
		"additionalProperties": false,
	}
	return map[string]any{
		"oneOf": []any{success, errorBranch},
	}
}
