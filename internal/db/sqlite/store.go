// Package sqlite is an embedded store with the same capabilities as the
// PostgreSQL one, for single node deployments.
//
// Timestamps are stored as unix nanoseconds and days as YYYY-MM-DD text.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens or creates the database at path. ":memory:" keeps it in memory.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: sqlite has a single writer and ":memory:" is per connection
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		_, _ = conn.ExecContext(ctx, pragma)
	}
	return &Store{conn: conn, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.conn.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		check_id TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'Unknown',
		description TEXT NOT NULL DEFAULT '',
		remediation TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cve_id TEXT NOT NULL UNIQUE,
		severity TEXT NOT NULL DEFAULT 'Unknown',
		package_name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		refs TEXT NOT NULL DEFAULT '',
		remediation TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS components (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		component_id TEXT NOT NULL UNIQUE,
		component_name TEXT NOT NULL DEFAULT '',
		scanner_id TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		audit_id TEXT NOT NULL UNIQUE,
		date INTEGER NOT NULL,
		audit_day TEXT NOT NULL,
		scanner_id TEXT NOT NULL,
		component_id TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audits_component_day ON audits(component_id, audit_day, date);
	CREATE INDEX IF NOT EXISTS idx_audits_day ON audits(audit_day);

	CREATE TABLE IF NOT EXISTS check_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		audit_row_id INTEGER NOT NULL REFERENCES audits(id) ON DELETE CASCADE,
		check_row_id INTEGER NOT NULL REFERENCES checks(id),
		component_id TEXT NOT NULL,
		value TEXT NOT NULL,
		message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_check_results_audit ON check_results(audit_row_id);

	CREATE TABLE IF NOT EXISTS metadata_azure (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		audit_row_id INTEGER NOT NULL UNIQUE REFERENCES audits(id) ON DELETE CASCADE,
		date INTEGER NOT NULL,
		json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metadata_kube (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		audit_row_id INTEGER NOT NULL UNIQUE REFERENCES audits(id) ON DELETE CASCADE,
		date INTEGER NOT NULL,
		json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ownership (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		component_id TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS image_scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		date INTEGER NOT NULL,
		image_tag TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS image_scan_cves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_row_id INTEGER NOT NULL REFERENCES image_scans(id) ON DELETE CASCADE,
		cve_row_id INTEGER NOT NULL REFERENCES cves(id),
		target TEXT NOT NULL DEFAULT '',
		used_package_version TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_image_scan_cves_scan ON image_scan_cves(scan_row_id);
	`)
	return err
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func dayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
