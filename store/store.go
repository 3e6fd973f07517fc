package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the Record Store. It owns one physical SQLite database file
// per process and exposes all persistence capabilities required by
// section 4.1 of the design specification: FileRegistry, checkpoints,
// runs, manifest, app config, and the ancillary audit logs.
//
// All mutations are synchronous and go through a single *sql.DB with
// exactly one open connection, so SQLite's single-writer model serializes
// every write without any application-level locking beyond the manifest
// critical section (section 5).
type Store struct {
	db *sql.DB

	// manifestMu serializes the read-modify-write of the single-blob
	// manifest row, as required by section 5's critical-section rule.
	manifestMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Open creates (or reuses) the SQLite database file at path, applies
// pragmas tuned for single-writer durability, and runs migrations.
// Directories are created on demand.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapErr("Open", fmt.Errorf("create checkpoint dir: %w", err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapErr("Open", err)
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// storms from the Go driver's connection pool fighting itself.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, wrapErr("Open", fmt.Errorf("ping: %w", err))
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, wrapErr("Open", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, wrapErr("Open", err)
	}

	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// migrate applies the schema required by section 6 of the design
// specification. Table names are contractual: external processes (the
// out-of-scope admin surface and report layer) read them directly.
func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tbl_file_registry (
			id TEXT PRIMARY KEY,
			full_path TEXT NOT NULL,
			brand TEXT NOT NULL,
			purchaser TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			etag TEXT,
			sha256 TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			run_id TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_registry_status ON tbl_file_registry(status)`,
		`CREATE TABLE IF NOT EXISTS tbl_checkpoints (
			run_id TEXT NOT NULL,
			relative_path TEXT NOT NULL,
			file_path TEXT NOT NULL,
			brand TEXT,
			purchaser TEXT,
			status TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT,
			latency_ms INTEGER DEFAULT 0,
			status_code INTEGER DEFAULT 0,
			error_message TEXT,
			pattern_key TEXT,
			full_response TEXT,
			PRIMARY KEY (run_id, relative_path)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON tbl_checkpoints(status)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_relative_path ON tbl_checkpoints(relative_path)`,
		`CREATE TABLE IF NOT EXISTS tbl_runs (
			run_id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			summary TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_case_id ON tbl_runs(case_id)`,
		`CREATE TABLE IF NOT EXISTS tbl_sync_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			brands TEXT,
			purchasers TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tbl_extraction_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			level TEXT NOT NULL,
			data TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_extraction_logs_run_id ON tbl_extraction_logs(run_id)`,
		`CREATE TABLE IF NOT EXISTS tbl_email_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			data TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tbl_schedule_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			data TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tbl_cron_schedules (
			name TEXT PRIMARY KEY,
			expression TEXT,
			enabled INTEGER DEFAULT 1,
			updated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tbl_app_config (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

// Close is idempotent, as required by section 4.1.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// Backup issues a SQLite online backup of the database to dstPath via
// VACUUM INTO, producing the disaster-recovery copy described in
// section 6 (<checkpointDir>/<db>.bak).
func (s *Store) Backup(ctx context.Context, dstPath string) error {
	// VACUUM INTO requires the destination not already exist.
	_ = os.Remove(dstPath)
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dstPath); err != nil {
		return wrapErr("Backup", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringFromNull(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
