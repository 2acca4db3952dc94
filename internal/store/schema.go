// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"fmt"
	"strings"
)

// ColumnType enumerates the supported column types for declared
// records. Unknown types are rejected at declaration time.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnText    ColumnType = "text"
	ColumnInteger ColumnType = "integer"
	ColumnFloat   ColumnType = "float"
	ColumnBoolean ColumnType = "boolean"
	ColumnTime    ColumnType = "time"
	ColumnJSON    ColumnType = "json"
)

// sqliteType maps a ColumnType to its SQLite storage class.
func (ct ColumnType) sqliteType() (string, error) {
	switch ct {
	case ColumnString, ColumnText, ColumnJSON:
		return "TEXT", nil
	case ColumnInteger:
		return "INTEGER", nil
	case ColumnFloat:
		return "REAL", nil
	case ColumnBoolean:
		return "BOOLEAN", nil
	case ColumnTime:
		return "DATETIME", nil
	default:
		return "", fmt.Errorf("unknown column type: %s", ct)
	}
}

// Column describes one declared column of a record table.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
	Default string // Raw SQL default, optional
}

// Typed column constructors. These are the only way to declare
// columns, so a typo in the type is a compile error rather than a
// runtime surprise.

// String declares a short text column
func String(name string) Column { return Column{Name: name, Type: ColumnString} }

// Text declares a long text column
func Text(name string) Column { return Column{Name: name, Type: ColumnText} }

// Integer declares an integer column
func Integer(name string) Column { return Column{Name: name, Type: ColumnInteger} }

// Float declares a floating-point column
func Float(name string) Column { return Column{Name: name, Type: ColumnFloat} }

// Boolean declares a boolean column
func Boolean(name string) Column { return Column{Name: name, Type: ColumnBoolean} }

// Time declares a timestamp column
func Time(name string) Column { return Column{Name: name, Type: ColumnTime} }

// JSON declares a JSON-serialized text column
func JSON(name string) Column { return Column{Name: name, Type: ColumnJSON} }

// NotNull marks the column NOT NULL
func (c Column) AsNotNull() Column {
	c.NotNull = true
	return c
}

// WithDefault sets a raw SQL default for the column
func (c Column) WithDefault(def string) Column {
	c.Default = def
	return c
}

// createTableSQL renders the CREATE TABLE statement for a record
// table. Every record table carries id/created_at/updated_at.
func createTableSQL(table string, columns []Column) (string, error) {
	var parts []string
	parts = append(parts, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, col := range columns {
		st, err := col.Type.sqliteType()
		if err != nil {
			return "", fmt.Errorf("table %s: %w", table, err)
		}
		def := fmt.Sprintf("%s %s", col.Name, st)
		if col.NotNull {
			def += " NOT NULL"
		}
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		parts = append(parts, def)
	}
	parts = append(parts, "created_at DATETIME", "updated_at DATETIME")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(parts, ", ")), nil
}
