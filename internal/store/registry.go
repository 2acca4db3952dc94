// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"sort"
)

// Behavior contributes optional callbacks to a declared record type.
// Where the record does not provide a callback, the engine falls back
// to defaults (plain attributes, no review hook).
type Behavior struct {
	// I18nAttributes overrides the attribute map used for prompt
	// interpolation in agent steps.
	I18nAttributes func(r *Record) map[string]any

	// AddReview is invoked by review loops after each iteration with
	// the current diff and any reviewer feedback.
	AddReview func(r *Record, diff string, feedbacks []string) error
}

// RecordDef is one declaration for a record type. Multiple
// declarations for the same name are additive: columns union,
// behaviors concatenate.
type RecordDef struct {
	Name      string
	Table     string // Inferred as Name + "s" when empty
	Columns   []Column
	Behaviors []Behavior
}

// recordType is the materialized union of all declarations for one
// record name.
type recordType struct {
	name      string
	table     string
	columns   []Column
	behaviors []Behavior
}

func (rt *recordType) i18nAttributes(r *Record) map[string]any {
	for i := len(rt.behaviors) - 1; i >= 0; i-- {
		if fn := rt.behaviors[i].I18nAttributes; fn != nil {
			return fn(r)
		}
	}
	return r.Attributes()
}

func (rt *recordType) addReview(r *Record, diff string, feedbacks []string) (bool, error) {
	handled := false
	for _, b := range rt.behaviors {
		if b.AddReview == nil {
			continue
		}
		handled = true
		if err := b.AddReview(r, diff, feedbacks); err != nil {
			return true, err
		}
	}
	return handled, nil
}

// Registry holds the materialized record types for one store.
type Registry struct {
	types map[string]*recordType
}

// NewRegistry folds a list of record declarations into a registry.
// Declarations for the same name union their columns and concatenate
// their behaviors; a column declared twice with different types is a
// declaration-time error.
func NewRegistry(defs []RecordDef) (*Registry, error) {
	reg := &Registry{types: make(map[string]*recordType)}
	for _, def := range defs {
		table := def.Table
		if table == "" {
			table = def.Name + "s"
		}
		rt, ok := reg.types[def.Name]
		if !ok {
			rt = &recordType{name: def.Name, table: table}
			reg.types[def.Name] = rt
		}
		for _, col := range def.Columns {
			if _, err := col.Type.sqliteType(); err != nil {
				return nil, err
			}
			existing := rt.findColumn(col.Name)
			if existing == nil {
				rt.columns = append(rt.columns, col)
			} else if existing.Type != col.Type {
				return nil, &SchemaConflictError{Record: def.Name, Column: col.Name, Have: existing.Type, Want: col.Type}
			}
		}
		rt.behaviors = append(rt.behaviors, def.Behaviors...)
	}
	return reg, nil
}

func (rt *recordType) findColumn(name string) *Column {
	for i := range rt.columns {
		if rt.columns[i].Name == name {
			return &rt.columns[i]
		}
	}
	return nil
}

// Names returns the declared record names in sorted order.
func (reg *Registry) Names() []string {
	names := make([]string, 0, len(reg.types))
	for name := range reg.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (reg *Registry) lookup(name string) (*recordType, error) {
	rt, ok := reg.types[name]
	if !ok {
		return nil, &UnknownRecordError{Name: name, Known: reg.Names()}
	}
	return rt, nil
}
