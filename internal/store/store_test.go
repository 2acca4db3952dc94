// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/weaver/internal/models"
)

func testConfig(t *testing.T, versioned bool, defs ...RecordDef) Config {
	t.Helper()
	return Config{
		Dir:        t.TempDir(),
		DBFilename: "weaver.sqlite3",
		Versioned:  versioned,
		Records:    defs,
	}
}

func itemDef() RecordDef {
	return RecordDef{
		Name: "item",
		Columns: []Column{
			String("attr_1"),
			String("attr_2"),
		},
	}
}

func openTestStore(t *testing.T, versioned bool, defs ...RecordDef) *Store {
	t.Helper()
	st, err := Open(testConfig(t, versioned, defs...))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestRecordCRUD(t *testing.T) {
	st := openTestStore(t, false, itemDef())
	records, err := st.Records("item")
	require.NoError(t, err)

	created, err := records.Create(map[string]any{"attr_1": "one"})
	require.NoError(t, err)
	require.NotZero(t, created.ID())
	assert.Equal(t, "item", created.Type())
	assert.Equal(t, "one", created.GetString("attr_1"))

	found, err := records.Find(created.ID())
	require.NoError(t, err)
	assert.Equal(t, "one", found.GetString("attr_1"))

	require.NoError(t, found.Update(map[string]any{"attr_2": "two"}))
	require.NoError(t, found.Reload())
	assert.Equal(t, "two", found.GetString("attr_2"))

	all, err := records.All()
	require.NoError(t, err)
	require.Len(t, all, 1)

	count, err := records.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	deleted, err := records.DeleteAll()
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestRecordUnknownColumnRejected(t *testing.T) {
	st := openTestStore(t, false, itemDef())
	records := st.MustRecords("item")

	_, err := records.Create(map[string]any{"nope": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no column "nope"`)
}

func TestRecordNotFound(t *testing.T) {
	st := openTestStore(t, false, itemDef())
	_, err := st.MustRecords("item").Find(99)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestUnknownRecordType(t *testing.T) {
	st := openTestStore(t, false, itemDef())
	_, err := st.Records("widget")
	var unknown *UnknownRecordError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "widget", unknown.Name)
	assert.Equal(t, []string{"item"}, unknown.Known)
}

func TestRegistryUnionsDeclarations(t *testing.T) {
	a := RecordDef{Name: "item", Columns: []Column{String("attr_1")}}
	b := RecordDef{Name: "item", Columns: []Column{String("attr_1"), Integer("rank")}}
	st := openTestStore(t, false, a, b)

	rec, err := st.MustRecords("item").Create(map[string]any{"attr_1": "x", "rank": 3})
	require.NoError(t, err)
	assert.EqualValues(t, 3, rec.GetInt("rank"))
}

func TestRegistryColumnConflict(t *testing.T) {
	a := RecordDef{Name: "item", Columns: []Column{String("rank")}}
	b := RecordDef{Name: "item", Columns: []Column{Integer("rank")}}
	_, err := NewRegistry([]RecordDef{a, b})
	var conflict *SchemaConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "rank", conflict.Column)
}

func TestVersionsTimeTravel(t *testing.T) {
	st := openTestStore(t, true, itemDef())

	var id uint
	require.NoError(t, st.Transaction(func(tx *Store) error {
		rec, err := tx.MustRecords("item").Create(map[string]any{"attr_1": "original"})
		if err != nil {
			return err
		}
		id = rec.ID()
		return nil
	}))
	require.NoError(t, st.Transaction(func(tx *Store) error {
		rec, err := tx.MustRecords("item").Find(id)
		if err != nil {
			return err
		}
		return rec.Update(map[string]any{"attr_2": "later"})
	}))

	versions, err := st.Versions()
	require.NoError(t, err)
	require.Len(t, versions, 2)

	past, err := versions[0].Open()
	require.NoError(t, err)
	defer past.Close()
	assert.True(t, past.ReadOnly())

	rec, err := past.MustRecords("item").Find(id)
	require.NoError(t, err)
	assert.Equal(t, "original", rec.GetString("attr_1"))
	assert.Empty(t, rec.GetString("attr_2"))
	assert.True(t, rec.ReadOnly())

	err = rec.Update(map[string]any{"attr_1": "rewrite history"})
	require.ErrorIs(t, err, ErrReadOnlyStore)

	latest, err := versions[1].Open()
	require.NoError(t, err)
	defer latest.Close()
	rec, err = latest.MustRecords("item").Find(id)
	require.NoError(t, err)
	assert.Equal(t, "later", rec.GetString("attr_2"))
}

func TestPinnedStoreRejectsEngineWrites(t *testing.T) {
	st := openTestStore(t, true, itemDef())
	ctx := context.Background()

	require.NoError(t, st.Transaction(func(tx *Store) error {
		return tx.CreateTask(ctx, &models.Task{RecordType: "item", RecordID: 1, Handler: "h"})
	}))
	versions, err := st.Versions()
	require.NoError(t, err)
	require.NotEmpty(t, versions)

	past, err := versions[0].Open()
	require.NoError(t, err)
	defer past.Close()

	err = past.CreateTask(ctx, &models.Task{RecordType: "item", RecordID: 2, Handler: "h"})
	require.ErrorIs(t, err, ErrReadOnlyStore)
	_, err = past.Versions()
	require.ErrorIs(t, err, ErrNotRootStore)
}

func TestUnversionedStoreWritesNoSnapshots(t *testing.T) {
	st := openTestStore(t, false, itemDef())

	require.NoError(t, st.Transaction(func(tx *Store) error {
		_, err := tx.MustRecords("item").Create(map[string]any{"attr_1": "x"})
		return err
	}))

	_, err := os.Stat(st.VersionsDir())
	assert.True(t, os.IsNotExist(err))
}

func TestNestedTransactionWritesOneSnapshot(t *testing.T) {
	st := openTestStore(t, true, itemDef())

	require.NoError(t, st.Transaction(func(tx *Store) error {
		return tx.Transaction(func(inner *Store) error {
			_, err := inner.MustRecords("item").Create(map[string]any{"attr_1": "x"})
			return err
		})
	}))

	versions, err := st.Versions()
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestVersionRestorePrunesNewerVersions(t *testing.T) {
	st := openTestStore(t, true, itemDef())

	var id uint
	for _, value := range []string{"v1", "v2", "v3"} {
		require.NoError(t, st.Transaction(func(tx *Store) error {
			records := tx.MustRecords("item")
			if id == 0 {
				rec, err := records.Create(map[string]any{"attr_1": value})
				if err != nil {
					return err
				}
				id = rec.ID()
				return nil
			}
			rec, err := records.Find(id)
			if err != nil {
				return err
			}
			return rec.Update(map[string]any{"attr_1": value})
		}))
	}

	versions, err := st.Versions()
	require.NoError(t, err)
	require.Len(t, versions, 3)

	restored, err := versions[0].Restore()
	require.NoError(t, err)
	defer restored.Close()

	rec, err := restored.MustRecords("item").Find(id)
	require.NoError(t, err)
	assert.Equal(t, "v1", rec.GetString("attr_1"))

	// Two newer versions pruned, one appended for the restore itself.
	versions, err = restored.Versions()
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestNamedSnapshotSaveAndRestore(t *testing.T) {
	st := openTestStore(t, true, itemDef())

	var id uint
	require.NoError(t, st.Transaction(func(tx *Store) error {
		rec, err := tx.MustRecords("item").Create(map[string]any{"attr_1": "before"})
		if err != nil {
			return err
		}
		id = rec.ID()
		return nil
	}))

	require.NoError(t, st.Snapshot("checkpoint"))
	_, err := os.Stat(filepath.Join(st.SnapshotsDir(), "checkpoint.sqlite3"))
	require.NoError(t, err)

	require.NoError(t, st.Transaction(func(tx *Store) error {
		rec, err := tx.MustRecords("item").Find(id)
		if err != nil {
			return err
		}
		return rec.Update(map[string]any{"attr_1": "after"})
	}))

	restored, err := st.Restore("checkpoint")
	require.NoError(t, err)
	defer restored.Close()

	rec, err := restored.MustRecords("item").Find(id)
	require.NoError(t, err)
	assert.Equal(t, "before", rec.GetString("attr_1"))
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	st := openTestStore(t, true, itemDef())
	_, err := st.Restore("never-saved")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFindOrCreateBy(t *testing.T) {
	st := openTestStore(t, false, itemDef())
	records := st.MustRecords("item")

	first, err := records.FindOrCreateBy(map[string]any{"attr_1": "same"})
	require.NoError(t, err)
	second, err := records.FindOrCreateBy(map[string]any{"attr_1": "same"})
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())

	count, err := records.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRecordsHandleSurvivesFinders(t *testing.T) {
	st := openTestStore(t, false, itemDef())
	records := st.MustRecords("item")

	// A miss on a refined handle must not leak conditions or error
	// state back into the handle it was derived from.
	_, err := records.Where(map[string]any{"attr_1": "absent"}).First()
	require.ErrorIs(t, err, ErrRecordNotFound)

	count, err := records.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	rec, err := records.FindOrCreateBy(map[string]any{"attr_1": "fresh"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", rec.GetString("attr_1"))

	all, err := records.All()
	require.NoError(t, err)
	require.Len(t, all, 1)

	count, err = records.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRecordBehaviors(t *testing.T) {
	var gotDiff string
	var gotFeedbacks []string
	def := itemDef()
	def.Behaviors = []Behavior{{
		I18nAttributes: func(r *Record) map[string]any {
			return map[string]any{"title": r.GetString("attr_1")}
		},
		AddReview: func(r *Record, diff string, feedbacks []string) error {
			gotDiff = diff
			gotFeedbacks = feedbacks
			return nil
		},
	}}
	st := openTestStore(t, false, def)

	rec, err := st.MustRecords("item").Create(map[string]any{"attr_1": "hello"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"title": "hello"}, rec.I18nAttributes())

	handled, err := rec.AddReview("some diff", []string{"tighten it"})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "some diff", gotDiff)
	assert.Equal(t, []string{"tighten it"}, gotFeedbacks)
}

func TestDefaultI18nAttributesSkipTimestamps(t *testing.T) {
	st := openTestStore(t, false, itemDef())
	rec, err := st.MustRecords("item").Create(map[string]any{"attr_1": "x"})
	require.NoError(t, err)

	attrs := rec.I18nAttributes()
	assert.Contains(t, attrs, "attr_1")
	assert.NotContains(t, attrs, "created_at")
	assert.NotContains(t, attrs, "updated_at")
}
