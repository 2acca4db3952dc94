// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Records is a query handle for one declared record type, bound to the
// store (or transaction) it was obtained from. Query-refining methods
// return a new handle, and every finder builds a fresh GORM chain, so
// handles are safely reusable and chainable.
type Records struct {
	store *Store
	rt    *recordType
	conds []cond
	order string
}

type cond struct {
	query any
	args  []any
}

// Records returns the query handle for a declared record type.
func (s *Store) Records(name string) (*Records, error) {
	rt, err := s.registry.lookup(name)
	if err != nil {
		return nil, err
	}
	return &Records{store: s, rt: rt}, nil
}

// MustRecords is Records for type names known to be declared; it
// panics on unknown names. Intended for wiring code, not request paths.
func (s *Store) MustRecords(name string) *Records {
	rs, err := s.Records(name)
	if err != nil {
		panic(err)
	}
	return rs
}

// Table returns the underlying table name.
func (rs *Records) Table() string {
	return rs.rt.table
}

// Name returns the record type name.
func (rs *Records) Name() string {
	return rs.rt.name
}

func (rs *Records) clone() *Records {
	out := &Records{store: rs.store, rt: rs.rt, order: rs.order}
	out.conds = append(out.conds, rs.conds...)
	return out
}

// query builds a fresh GORM chain for one call. GORM statements are
// single-use, so nothing chained is ever stored on the handle.
func (rs *Records) query() *gorm.DB {
	q := rs.store.db.Table(rs.rt.table)
	for _, c := range rs.conds {
		q = q.Where(c.query, c.args...)
	}
	if rs.order != "" {
		q = q.Order(rs.order)
	}
	return q
}

// Where refines the query handle with a condition.
func (rs *Records) Where(query any, args ...any) *Records {
	out := rs.clone()
	out.conds = append(out.conds, cond{query: query, args: args})
	return out
}

// Order refines the query handle with an ordering clause.
func (rs *Records) Order(value string) *Records {
	out := rs.clone()
	out.order = value
	return out
}

// Create inserts a new row and returns it as a Record.
func (rs *Records) Create(attrs map[string]any) (*Record, error) {
	if rs.store.ReadOnly() {
		return nil, ErrReadOnlyStore
	}
	if err := rs.validateColumns(attrs); err != nil {
		return nil, err
	}

	row := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		row[k] = v
	}
	now := time.Now()
	row["created_at"] = now
	row["updated_at"] = now

	if err := rs.store.db.Table(rs.rt.table).Create(row).Error; err != nil {
		return nil, err
	}

	// GORM does not backfill map inserts; the single shared connection
	// makes last_insert_rowid reliable.
	var id int64
	if err := rs.store.db.Raw("SELECT last_insert_rowid()").Scan(&id).Error; err != nil {
		return nil, err
	}
	return rs.Find(uint(id))
}

// Find fetches a record by primary key.
func (rs *Records) Find(id uint) (*Record, error) {
	var row map[string]any
	err := rs.store.db.Table(rs.rt.table).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s id=%d: %w", rs.rt.name, id, ErrRecordNotFound)
		}
		return nil, err
	}
	return rs.wrap(row), nil
}

// FindOrCreateBy returns the first record matching attrs, creating it
// when none exists.
func (rs *Records) FindOrCreateBy(attrs map[string]any) (*Record, error) {
	existing, err := rs.Where(attrs).First()
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	return rs.Create(attrs)
}

// First returns the first matching record.
func (rs *Records) First() (*Record, error) {
	var row map[string]any
	err := rs.query().Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s: %w", rs.rt.name, ErrRecordNotFound)
		}
		return nil, err
	}
	return rs.wrap(row), nil
}

// All returns every matching record.
func (rs *Records) All() ([]*Record, error) {
	var rows []map[string]any
	if err := rs.query().Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]*Record, len(rows))
	for i, row := range rows {
		records[i] = rs.wrap(row)
	}
	return records, nil
}

// Count returns the number of matching rows.
func (rs *Records) Count() (int64, error) {
	var count int64
	err := rs.query().Count(&count).Error
	return count, err
}

// DeleteAll deletes every row of the record's table and returns how
// many went away.
func (rs *Records) DeleteAll() (int64, error) {
	if rs.store.ReadOnly() {
		return 0, ErrReadOnlyStore
	}
	res := rs.store.db.Exec("DELETE FROM " + rs.rt.table)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (rs *Records) wrap(row map[string]any) *Record {
	return &Record{set: rs, attrs: row}
}

func (rs *Records) validateColumns(attrs map[string]any) error {
	for name := range attrs {
		if rs.rt.findColumn(name) == nil {
			return fmt.Errorf("record %q has no column %q", rs.rt.name, name)
		}
	}
	return nil
}

// Record is one row of a declared record type: an attribute map plus
// the behaviors contributed at declaration time.
type Record struct {
	set   *Records
	attrs map[string]any
}

// ID returns the primary key.
func (r *Record) ID() uint {
	switch v := r.attrs["id"].(type) {
	case int64:
		return uint(v)
	case int:
		return uint(v)
	case uint:
		return v
	case float64:
		return uint(v)
	default:
		return 0
	}
}

// Type returns the record type name.
func (r *Record) Type() string {
	return r.set.rt.name
}

// ReadOnly reports whether this record came from a version-pinned store.
func (r *Record) ReadOnly() bool {
	return r.set.store.ReadOnly()
}

// Get returns a raw attribute value.
func (r *Record) Get(name string) any {
	return r.attrs[name]
}

// GetString returns an attribute coerced to string.
func (r *Record) GetString(name string) string {
	switch v := r.attrs[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// GetInt returns an attribute coerced to int64.
func (r *Record) GetInt(name string) int64 {
	switch v := r.attrs[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// GetBool returns an attribute coerced to bool.
func (r *Record) GetBool(name string) bool {
	switch v := r.attrs[name].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	default:
		return false
	}
}

// Attributes returns a copy of the attribute map without the
// bookkeeping columns.
func (r *Record) Attributes() map[string]any {
	out := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		if k == "created_at" || k == "updated_at" {
			continue
		}
		out[k] = v
	}
	return out
}

// Update writes the given attributes. Rejected with ErrReadOnlyStore
// on version-pinned stores.
func (r *Record) Update(attrs map[string]any) error {
	if r.ReadOnly() {
		return ErrReadOnlyStore
	}
	if err := r.set.validateColumns(attrs); err != nil {
		return err
	}

	updates := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		updates[k] = v
	}
	updates["updated_at"] = time.Now()

	err := r.set.store.db.Table(r.set.rt.table).Where("id = ?", r.ID()).Updates(updates).Error
	if err != nil {
		return err
	}
	for k, v := range updates {
		r.attrs[k] = v
	}
	return nil
}

// Reload re-reads the record from the store.
func (r *Record) Reload() error {
	fresh, err := r.set.Find(r.ID())
	if err != nil {
		return err
	}
	r.attrs = fresh.attrs
	return nil
}

// I18nAttributes returns the attribute map used for prompt
// interpolation, honoring any declared behavior override.
func (r *Record) I18nAttributes() map[string]any {
	return r.set.rt.i18nAttributes(r)
}

// AddReview invokes declared review hooks, reporting whether any
// behavior handled the call.
func (r *Record) AddReview(diff string, feedbacks []string) (bool, error) {
	return r.set.rt.addReview(r, diff, feedbacks)
}
