package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/refcache"
)

// Checks returns the check reference table.
func (s *Store) Checks() refcache.Store[model.Check] { return checkTable{pool: s.Pool} }

// CVEs returns the CVE reference table.
func (s *Store) CVEs() refcache.Store[model.CVE] { return cveTable{pool: s.Pool} }

func findReference(ctx context.Context, pool *pgxpool.Pool, query, key string) (model.ReferenceRow, bool, error) {
	var row model.ReferenceRow
	err := pool.QueryRow(ctx, query, key).Scan(&row.ID, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReferenceRow{}, false, nil
	}
	if err != nil {
		return model.ReferenceRow{}, false, err
	}
	return row, true, nil
}

// insertReference runs an INSERT ... ON CONFLICT DO NOTHING RETURNING id, updated_at.
// An empty result means a concurrent writer inserted key first.
func insertReference(ctx context.Context, pool *pgxpool.Pool, what, key, query string, args ...interface{}) (model.ReferenceRow, error) {
	var row model.ReferenceRow
	err := pool.QueryRow(ctx, query, args...).Scan(&row.ID, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReferenceRow{}, errors.AlreadyExistsf("%s %s", what, key)
	}
	if err != nil {
		return model.ReferenceRow{}, fmt.Errorf("insert %s %s: %w", what, key, err)
	}
	return row, nil
}

type checkTable struct{ pool *pgxpool.Pool }

func (t checkTable) Find(ctx context.Context, key string) (model.ReferenceRow, bool, error) {
	return findReference(ctx, t.pool, `SELECT id, updated_at FROM checks WHERE check_id=$1`, key)
}

func (t checkTable) Insert(ctx context.Context, key string, c model.Check) (model.ReferenceRow, error) {
	return insertReference(ctx, t.pool, "check", key, `
		INSERT INTO checks (check_id, category, severity, description, remediation)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (check_id) DO NOTHING
		RETURNING id, updated_at
	`, key, c.Category, string(c.Severity), c.Description, nullableString(c.Remediation))
}

func (t checkTable) Update(ctx context.Context, key string, c model.Check) error {
	_, err := t.pool.Exec(ctx, `
		UPDATE checks
		SET category=$2, severity=$3, description=$4, remediation=$5, updated_at=now()
		WHERE check_id=$1
	`, key, c.Category, string(c.Severity), c.Description, nullableString(c.Remediation))
	return err
}

type cveTable struct{ pool *pgxpool.Pool }

func (t cveTable) Find(ctx context.Context, key string) (model.ReferenceRow, bool, error) {
	return findReference(ctx, t.pool, `SELECT id, updated_at FROM cves WHERE cve_id=$1`, key)
}

func (t cveTable) Insert(ctx context.Context, key string, c model.CVE) (model.ReferenceRow, error) {
	return insertReference(ctx, t.pool, "cve", key, `
		INSERT INTO cves (cve_id, severity, package_name, title, description, refs, remediation)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cve_id) DO NOTHING
		RETURNING id, updated_at
	`, key, string(c.Severity), c.PackageName, c.Title, c.Description, c.References, nullableString(c.Remediation))
}

func (t cveTable) Update(ctx context.Context, key string, c model.CVE) error {
	_, err := t.pool.Exec(ctx, `
		UPDATE cves
		SET severity=$2, package_name=$3, title=$4, description=$5, refs=$6, remediation=$7, updated_at=now()
		WHERE cve_id=$1
	`, key, string(c.Severity), c.PackageName, c.Title, c.Description, c.References, nullableString(c.Remediation))
	return err
}
