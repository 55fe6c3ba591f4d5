// Package store provides the durable, schema-versioned local store backing
// the offline-first engine.
//
// The store keeps one logical table per entity type plus the pending-mutation
// queue and the dead-letter log. Migrations are strictly additive: a version
// bump creates missing tables, columns and indexes and never drops data.
//
// Database configuration follows the usual embedded-replica settings:
//   - WAL mode: concurrent reads during writes, safe across processes
//   - busy_timeout=5000: wait for cross-tab locks up to 5 seconds
//   - foreign_keys=ON
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the current schema version. Opening a database recorded
// at a lower version applies the missing migrations additively.
const SchemaVersion = 2

// migrations holds the statements for each schema version, indexed by
// version-1. Entries are append-only; editing a shipped version is not
// a supported upgrade path.
var migrations = [][]string{
	// v1: entity stores and the pending-mutation queue
	{
		`CREATE TABLE IF NOT EXISTS prospects (
			id TEXT PRIMARY KEY,
			data JSON NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rankings_snapshots (
			captured_at DATETIME PRIMARY KEY,
			data JSON NOT NULL,
			entry_count INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS watchlist (
			prospect_id TEXT PRIMARY KEY,
			added_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS comparisons (
			id TEXT PRIMARY KEY,
			data JSON NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value JSON NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_mutations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			payload JSON NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			next_attempt DATETIME,
			enqueued_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watchlist_added_at ON watchlist(added_at)`,
		`CREATE INDEX IF NOT EXISTS idx_comparisons_created_at ON comparisons(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_next_attempt ON pending_mutations(next_attempt)`,
	},
	// v2: persisted idempotency keys and the dead-letter log
	{
		`ALTER TABLE pending_mutations ADD COLUMN idempotency_key TEXT NOT NULL DEFAULT ''`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			payload JSON NOT NULL,
			retry_count INTEGER NOT NULL,
			reason TEXT NOT NULL,
			failed_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_failed_at ON dead_letters(failed_at)`,
	},
}

// Store is the sqlite-backed persistent store. It is safe for concurrent
// use; cross-tab record conflicts on cache entities resolve last-write-wins.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and migrates it to
// targetVersion. Failure to open or migrate is reported as a StorageError
// with KindOpenFailed.
func Open(path string, targetVersion int) (*Store, error) {
	if targetVersion < 1 || targetVersion > SchemaVersion {
		return nil, storageErr(KindOpenFailed, "open",
			fmt.Errorf("unsupported schema version %d (max %d)", targetVersion, SchemaVersion))
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, storageErr(KindOpenFailed, "open", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(targetVersion); err != nil {
		_ = db.Close()
		return nil, storageErr(KindOpenFailed, "migrate", err)
	}

	return s, nil
}

// migrate applies migrations above the recorded user_version, up to
// targetVersion. Each version runs in its own transaction so a partial
// upgrade never records a version it did not complete.
func (s *Store) migrate(targetVersion int) error {
	var current int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current > targetVersion {
		// Opened by a newer engine already; nothing to do.
		return nil
	}

	for v := current; v < targetVersion; v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration to v%d: %w", v+1, err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration to v%d failed: %w", v+1, err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration to v%d: %w", v+1, err)
		}
	}

	return nil
}

// Version returns the schema version recorded in the database
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, storageErr(KindTransactionFailed, "version", err)
	}
	return v, nil
}

// entityTables lists every logical store wiped by ClearAll, dependency-free
// so deletion order does not matter.
var entityTables = []string{
	"prospects",
	"rankings_snapshots",
	"watchlist",
	"comparisons",
	"preferences",
	"pending_mutations",
	"dead_letters",
}

// Clear empties a single logical store
func (s *Store) Clear(ctx context.Context, table string) error {
	ctx, span := startSpan(ctx, "clear")
	defer span.End()

	known := false
	for _, t := range entityTables {
		if t == table {
			known = true
			break
		}
	}
	if !known {
		return storageErr(KindTransactionFailed, "clear",
			fmt.Errorf("unknown store %q", table))
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return storageErr(KindTransactionFailed, "clear "+table, err)
	}
	return nil
}

// ClearAll wipes every logical store in one transaction. Used on logout.
func (s *Store) ClearAll(ctx context.Context) error {
	ctx, span := startSpan(ctx, "clear_all")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(KindTransactionFailed, "clear all", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range entityTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return storageErr(KindTransactionFailed, "clear "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr(KindTransactionFailed, "clear all", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
