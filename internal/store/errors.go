// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"fmt"
)

// ErrReadOnlyStore is returned for any write attempted against a
// version-pinned store.
var ErrReadOnlyStore = errors.New("store is read-only (pinned to a version snapshot)")

// ErrNotRootStore is returned when a snapshot/restore/migration
// operation is attempted on a version-pinned store.
var ErrNotRootStore = errors.New("operation is only valid on the root store")

// ErrRecordNotFound is returned when a lookup matches no row.
var ErrRecordNotFound = errors.New("record not found")

// UnknownRecordError is returned when a record type was never declared.
type UnknownRecordError struct {
	Name  string
	Known []string
}

func (e *UnknownRecordError) Error() string {
	return fmt.Sprintf("unknown record type %q (declared: %v)", e.Name, e.Known)
}

// SchemaConflictError is returned when two declarations of the same
// record disagree about a column's type.
type SchemaConflictError struct {
	Record string
	Column string
	Have   ColumnType
	Want   ColumnType
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("record %q: column %q declared as both %s and %s", e.Record, e.Column, e.Have, e.Want)
}
