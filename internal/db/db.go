// Package db is the PostgreSQL store of normalized audits, reference data,
// ownership and image scans.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
)

const batchSize = 100

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// IsInsufficientPrivilege reports whether err is a postgres permission error,
// which EnsureSchema callers tolerate when running with a read/write-only role.
func IsInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS checks (
  id BIGSERIAL PRIMARY KEY,
  check_id TEXT NOT NULL UNIQUE,
  category TEXT NOT NULL DEFAULT '',
  severity TEXT NOT NULL DEFAULT 'Unknown',
  description TEXT NOT NULL DEFAULT '',
  remediation TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cves (
  id BIGSERIAL PRIMARY KEY,
  cve_id TEXT NOT NULL UNIQUE,
  severity TEXT NOT NULL DEFAULT 'Unknown',
  package_name TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  refs TEXT NOT NULL DEFAULT '',
  remediation TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS components (
  id BIGSERIAL PRIMARY KEY,
  component_id TEXT NOT NULL UNIQUE,
  component_name TEXT NOT NULL DEFAULT '',
  scanner_id TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audits (
  id BIGSERIAL PRIMARY KEY,
  audit_id TEXT NOT NULL UNIQUE,
  date TIMESTAMPTZ NOT NULL,
  audit_day DATE NOT NULL,
  scanner_id TEXT NOT NULL,
  component_id TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audits_component_day ON audits(component_id, audit_day, date DESC);
CREATE INDEX IF NOT EXISTS idx_audits_day ON audits(audit_day, component_id, date DESC);

CREATE TABLE IF NOT EXISTS check_results (
  id BIGSERIAL PRIMARY KEY,
  audit_row_id BIGINT NOT NULL REFERENCES audits(id) ON DELETE CASCADE,
  check_row_id BIGINT NOT NULL REFERENCES checks(id),
  component_id TEXT NOT NULL,
  value TEXT NOT NULL CHECK (value IN ('NoData','InProgress','Failed','Succeeded')),
  message TEXT
);

CREATE INDEX IF NOT EXISTS idx_check_results_audit ON check_results(audit_row_id);
CREATE INDEX IF NOT EXISTS idx_check_results_component ON check_results(component_id);

CREATE TABLE IF NOT EXISTS metadata_azure (
  id BIGSERIAL PRIMARY KEY,
  audit_row_id BIGINT NOT NULL UNIQUE REFERENCES audits(id) ON DELETE CASCADE,
  date TIMESTAMPTZ NOT NULL,
  json JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata_kube (
  id BIGSERIAL PRIMARY KEY,
  audit_row_id BIGINT NOT NULL UNIQUE REFERENCES audits(id) ON DELETE CASCADE,
  date TIMESTAMPTZ NOT NULL,
  json JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS ownership (
  id BIGSERIAL PRIMARY KEY,
  component_id TEXT NOT NULL UNIQUE,
  owner TEXT NOT NULL DEFAULT '',
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS image_scans (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT NOT NULL UNIQUE,
  date TIMESTAMPTZ NOT NULL,
  image_tag TEXT NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('Queued','Failed','Succeeded')),
  description TEXT
);

CREATE INDEX IF NOT EXISTS idx_image_scans_tag_date ON image_scans(image_tag, date DESC);

CREATE TABLE IF NOT EXISTS image_scan_cves (
  id BIGSERIAL PRIMARY KEY,
  scan_row_id BIGINT NOT NULL REFERENCES image_scans(id) ON DELETE CASCADE,
  cve_row_id BIGINT NOT NULL REFERENCES cves(id),
  target TEXT NOT NULL DEFAULT '',
  used_package_version TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_image_scan_cves_scan ON image_scan_cves(scan_row_id);
`)
	return err
}
