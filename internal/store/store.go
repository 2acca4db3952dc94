// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store implements the versioned record store: a SQLite
// database with migrations, serialized transactions, automatic
// per-commit file snapshots, named snapshots, and read-only
// time-travel over past versions.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/noldarim/weaver/internal/logger"
)

// snapshotMu serializes the sequence {commit -> copy-file} across the
// whole process so every snapshot reflects an actually committed state.
var snapshotMu sync.Mutex

// Config configures a store. Dir holds the live database file named
// DBFilename; version snapshots and named snapshots live in sibling
// directories derived from the filename.
type Config struct {
	Dir        string
	DBFilename string
	Versioned  bool
	Records    []RecordDef
	Migrations []Migration
}

// Store is a handle on the versioned database. The root store owns the
// live file and may migrate, snapshot and restore; a store pinned to a
// version snapshot is read-only.
type Store struct {
	cfg      Config
	db       *gorm.DB
	registry *Registry
	pinned   string // Snapshot file path when non-root
	inTxn    bool
	log      zerolog.Logger
}

// Open opens (creating if absent) the live database, applies pending
// migrations, and returns the root store.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("store: dir is required")
	}
	if cfg.DBFilename == "" {
		cfg.DBFilename = "weaver.sqlite3"
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("store: failed to create dir: %w", err)
	}

	registry, err := NewRegistry(cfg.Records)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:      cfg,
		registry: registry,
		log:      logger.GetStoreLogger(),
	}

	db, err := openSQLite(s.livePath(), false)
	if err != nil {
		return nil, err
	}
	s.db = db

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}

	s.log.Debug().Str("path", s.livePath()).Bool("versioned", cfg.Versioned).Msg("Store opened")
	return s, nil
}

func openSQLite(path string, readOnly bool) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=DELETE&_locking_mode=NORMAL&_busy_timeout=5000", path)
	if readOnly {
		// Pragmas are skipped on read-only connections
		dsn = fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent), // Reduce GORM log noise
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database %s: %w", path, err)
	}

	// Single connection: all writes are serialized and snapshot copies
	// always see a settled file.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if readOnly {
		registerReadOnlyCallbacks(db)
	}
	return db, nil
}

func registerReadOnlyCallbacks(db *gorm.DB) {
	reject := func(d *gorm.DB) { _ = d.AddError(ErrReadOnlyStore) }
	_ = db.Callback().Create().Before("gorm:create").Register("weaver:readonly_create", reject)
	_ = db.Callback().Update().Before("gorm:update").Register("weaver:readonly_update", reject)
	_ = db.Callback().Delete().Before("gorm:delete").Register("weaver:readonly_delete", reject)
}

// --- Paths ---

func (s *Store) baseName() string {
	return strings.TrimSuffix(s.cfg.DBFilename, filepath.Ext(s.cfg.DBFilename))
}

func (s *Store) livePath() string {
	return filepath.Join(s.cfg.Dir, s.cfg.DBFilename)
}

// VersionsDir returns the directory holding automatic per-commit snapshots.
func (s *Store) VersionsDir() string {
	return filepath.Join(s.cfg.Dir, s.baseName()+"_versions")
}

// SnapshotsDir returns the directory holding named snapshots.
func (s *Store) SnapshotsDir() string {
	return filepath.Join(s.cfg.Dir, s.baseName()+"_snapshots")
}

// ReadOnly reports whether this store is pinned to a version snapshot.
func (s *Store) ReadOnly() bool {
	return s.pinned != ""
}

// DB exposes the underlying GORM handle. Inside a Transaction callback
// this is the transactional handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) withDB(db *gorm.DB) *Store {
	clone := *s
	clone.db = db
	return &clone
}

// --- Transactions ---

// Transaction executes fn atomically. A nested call joins the outer
// transaction and writes no snapshot of its own. After a top-level
// commit on a versioned root store, the live file is copied into the
// versions directory; the commit and the copy are serialized by a
// process-wide mutex.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	if s.inTxn {
		return fn(s)
	}

	snapshot := s.cfg.Versioned && !s.ReadOnly()
	if snapshot {
		snapshotMu.Lock()
		defer snapshotMu.Unlock()
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		ts := s.withDB(tx)
		ts.inTxn = true
		return fn(ts)
	})
	if err != nil {
		return err
	}

	if snapshot {
		if err := s.writeVersionSnapshot(); err != nil {
			// The database is committed and consistent; the version
			// trail is one entry short. See the documented boundary.
			return fmt.Errorf("store: commit succeeded but snapshot copy failed: %w", err)
		}
	}
	return nil
}

func (s *Store) writeVersionSnapshot() error {
	if err := os.MkdirAll(s.VersionsDir(), 0755); err != nil {
		return err
	}
	// Nanosecond timestamps zero-padded to stay string-sortable.
	name := fmt.Sprintf("%020d.sqlite3", time.Now().UnixNano())
	dst := filepath.Join(s.VersionsDir(), name)
	if err := copyFile(s.livePath(), dst); err != nil {
		return err
	}
	s.log.Trace().Str("version", name).Msg("Wrote version snapshot")
	return nil
}

// --- Versions / time travel ---

// Version is one automatic snapshot, addressable by its position in
// the chronological version list.
type Version struct {
	Index int
	File  string

	root *Store
}

// Versions returns the automatic snapshots in chronological order.
func (s *Store) Versions() ([]*Version, error) {
	if s.ReadOnly() {
		return nil, ErrNotRootStore
	}
	entries, err := os.ReadDir(s.VersionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sqlite3") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	versions := make([]*Version, len(files))
	for i, f := range files {
		versions[i] = &Version{Index: i, File: filepath.Join(s.VersionsDir(), f), root: s}
	}
	return versions, nil
}

// Open returns a store pinned to this version's snapshot file. All
// record instances it yields are read-only.
func (v *Version) Open() (*Store, error) {
	db, err := openSQLite(v.File, true)
	if err != nil {
		return nil, err
	}
	pinned := v.root.withDB(db)
	pinned.pinned = v.File
	return pinned, nil
}

// Restore overwrites the live database with this version's file,
// deletes all newer versions, appends a fresh snapshot reflecting the
// restore, and returns a new root store.
func (v *Version) Restore() (*Store, error) {
	root := v.root
	if root.ReadOnly() {
		return nil, ErrNotRootStore
	}

	versions, err := root.Versions()
	if err != nil {
		return nil, err
	}

	if err := root.Close(); err != nil {
		return nil, err
	}

	snapshotMu.Lock()
	defer snapshotMu.Unlock()

	if err := copyFile(v.File, root.livePath()); err != nil {
		return nil, fmt.Errorf("store: restore failed: %w", err)
	}
	for _, other := range versions {
		if other.Index > v.Index {
			if err := os.Remove(other.File); err != nil {
				return nil, fmt.Errorf("store: failed to prune version %d: %w", other.Index, err)
			}
		}
	}
	name := fmt.Sprintf("%020d.sqlite3", time.Now().UnixNano())
	if err := copyFile(root.livePath(), filepath.Join(root.VersionsDir(), name)); err != nil {
		return nil, err
	}

	return Open(root.cfg)
}

// --- Named snapshots ---

// Snapshot copies the live database to a named snapshot file.
func (s *Store) Snapshot(label string) error {
	if s.ReadOnly() {
		return ErrNotRootStore
	}
	if err := os.MkdirAll(s.SnapshotsDir(), 0755); err != nil {
		return err
	}
	snapshotMu.Lock()
	defer snapshotMu.Unlock()
	dst := filepath.Join(s.SnapshotsDir(), label+".sqlite3")
	if err := copyFile(s.livePath(), dst); err != nil {
		return fmt.Errorf("store: snapshot %q failed: %w", label, err)
	}
	s.log.Info().Str("label", label).Msg("Wrote named snapshot")
	return nil
}

// Restore overwrites the live database with the named snapshot,
// appends a new version, and returns a new root store.
func (s *Store) Restore(label string) (*Store, error) {
	if s.ReadOnly() {
		return nil, ErrNotRootStore
	}
	src := filepath.Join(s.SnapshotsDir(), label+".sqlite3")
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("store: snapshot %q not found: %w", label, err)
	}

	if err := s.Close(); err != nil {
		return nil, err
	}

	snapshotMu.Lock()
	if err := copyFile(src, s.livePath()); err != nil {
		snapshotMu.Unlock()
		return nil, fmt.Errorf("store: restore %q failed: %w", label, err)
	}
	if s.cfg.Versioned {
		if err := os.MkdirAll(s.VersionsDir(), 0755); err != nil {
			snapshotMu.Unlock()
			return nil, err
		}
		name := fmt.Sprintf("%020d.sqlite3", time.Now().UnixNano())
		if err := copyFile(s.livePath(), filepath.Join(s.VersionsDir(), name)); err != nil {
			snapshotMu.Unlock()
			return nil, err
		}
	}
	snapshotMu.Unlock()

	s.log.Info().Str("label", label).Msg("Restored named snapshot")
	return Open(s.cfg)
}

// --- Helpers ---

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
