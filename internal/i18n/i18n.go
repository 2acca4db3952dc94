// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package i18n loads YAML prompt packs and renders their entries with
// Go text templates. Agent steps derive their prompt payloads from
// pack keys of the form "<step>.prompt", "<step>.cached_prompts",
// "<step>.tools" and "<step>.response_schema".
package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/noldarim/weaver/internal/schema"
)

// Service resolves dotted keys against merged prompt packs.
type Service struct {
	entries map[string]any
}

// FromMap builds a service over an in-memory pack. Nested maps are
// addressed with dotted keys.
func FromMap(pack map[string]any) *Service {
	return &Service{entries: pack}
}

// Load reads one or more YAML pack files or directories and merges
// them, later packs overriding earlier keys.
func Load(paths ...string) (*Service, error) {
	merged := make(map[string]any)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt pack %s: %w", path, err)
		}
		files := []string{path}
		if info.IsDir() {
			files, err = packFiles(path)
			if err != nil {
				return nil, err
			}
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read prompt pack %s: %w", file, err)
			}
			var pack map[string]any
			if err := yaml.Unmarshal(data, &pack); err != nil {
				return nil, fmt.Errorf("failed to parse prompt pack %s: %w", file, err)
			}
			mergeMaps(merged, pack)
		}
	}
	return &Service{entries: merged}, nil
}

func packFiles(dir string) ([]string, error) {
	var files []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt pack dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func mergeMaps(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				mergeMaps(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}

// Exists reports whether the dotted key resolves to any value.
func (s *Service) Exists(key string) bool {
	_, ok := s.lookup(key)
	return ok
}

func (s *Service) lookup(key string) (any, bool) {
	var node any = s.entries
	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// T resolves a key to a string entry and renders it as a text template
// with the given attributes. Missing keys inside the template are
// rendering errors.
func (s *Service) T(key string, attrs map[string]any) (string, error) {
	node, ok := s.lookup(key)
	if !ok {
		return "", fmt.Errorf("prompt pack key not found: %s", key)
	}
	text, ok := node.(string)
	if !ok {
		return "", fmt.Errorf("prompt pack key %s is %T, expected a string", key, node)
	}
	return render(key, text, attrs)
}

// TList resolves a key to a list entry and renders each element.
func (s *Service) TList(key string, attrs map[string]any) ([]string, error) {
	node, ok := s.lookup(key)
	if !ok {
		return nil, fmt.Errorf("prompt pack key not found: %s", key)
	}
	items, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("prompt pack key %s is %T, expected a list", key, node)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		text, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("prompt pack key %s[%d] is %T, expected a string", key, i, item)
		}
		rendered, err := render(fmt.Sprintf("%s[%d]", key, i), text, attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, rendered)
	}
	return out, nil
}

func render(name, text string, attrs map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, attrs); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return sb.String(), nil
}

// SchemaFunc converts a structured response_schema node into a schema
// function. The node is a list of property declarations, each with
// "name" and "type" (string, text, boolean, integer, number,
// string_array, enum) plus optional "description" and "values".
func (s *Service) SchemaFunc(key string) (schema.Func, error) {
	node, ok := s.lookup(key)
	if !ok {
		return nil, fmt.Errorf("prompt pack key not found: %s", key)
	}
	items, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("prompt pack key %s is %T, expected a list of properties", key, node)
	}

	type property struct {
		name        string
		kind        string
		description string
		values      []string
	}
	props := make([]property, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("prompt pack key %s[%d] is %T, expected a map", key, i, item)
		}
		p := property{}
		p.name, _ = m["name"].(string)
		p.kind, _ = m["type"].(string)
		p.description, _ = m["description"].(string)
		if p.name == "" || p.kind == "" {
			return nil, fmt.Errorf("prompt pack key %s[%d] needs name and type", key, i)
		}
		if raw, ok := m["values"].([]any); ok {
			for _, v := range raw {
				if sv, ok := v.(string); ok {
					p.values = append(p.values, sv)
				}
			}
		}
		props = append(props, p)
	}

	return func(b *schema.Builder) {
		for _, p := range props {
			switch p.kind {
			case "string", "text":
				b.String(p.name, p.description)
			case "boolean":
				b.Boolean(p.name, p.description)
			case "integer":
				b.Integer(p.name, p.description)
			case "number":
				b.Number(p.name, p.description)
			case "string_array":
				b.StringArray(p.name, p.description)
			case "enum":
				b.Enum(p.name, p.values, p.description)
			default:
				b.String(p.name, p.description)
			}
		}
	}, nil
}
