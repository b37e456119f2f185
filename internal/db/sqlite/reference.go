package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/juju/errors"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/refcache"
)

func (s *Store) Checks() refcache.Store[model.Check] { return checkTable{s} }

func (s *Store) CVEs() refcache.Store[model.CVE] { return cveTable{s} }

func (s *Store) findReference(ctx context.Context, query, key string) (model.ReferenceRow, bool, error) {
	var (
		row     model.ReferenceRow
		updated int64
	)
	err := s.conn.QueryRowContext(ctx, query, key).Scan(&row.ID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReferenceRow{}, false, nil
	}
	if err != nil {
		return model.ReferenceRow{}, false, err
	}
	row.UpdatedAt = fromNanos(updated)
	return row, true, nil
}

func (s *Store) insertReference(ctx context.Context, what, key, query string, args ...interface{}) (model.ReferenceRow, error) {
	var (
		row     model.ReferenceRow
		updated int64
	)
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(&row.ID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReferenceRow{}, errors.AlreadyExistsf("%s %s", what, key)
	}
	if err != nil {
		return model.ReferenceRow{}, fmt.Errorf("insert %s %s: %w", what, key, err)
	}
	row.UpdatedAt = fromNanos(updated)
	return row, nil
}

type checkTable struct{ s *Store }

func (t checkTable) Find(ctx context.Context, key string) (model.ReferenceRow, bool, error) {
	return t.s.findReference(ctx, `SELECT id, updated_at FROM checks WHERE check_id = ?`, key)
}

func (t checkTable) Insert(ctx context.Context, key string, c model.Check) (model.ReferenceRow, error) {
	return t.s.insertReference(ctx, "check", key, `
		INSERT INTO checks (check_id, category, severity, description, remediation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (check_id) DO NOTHING
		RETURNING id, updated_at
	`, key, c.Category, string(c.Severity), c.Description, nullableString(c.Remediation), nanos(t.s.now()))
}

func (t checkTable) Update(ctx context.Context, key string, c model.Check) error {
	_, err := t.s.conn.ExecContext(ctx, `
		UPDATE checks
		SET category = ?, severity = ?, description = ?, remediation = ?, updated_at = ?
		WHERE check_id = ?
	`, c.Category, string(c.Severity), c.Description, nullableString(c.Remediation), nanos(t.s.now()), key)
	return err
}

type cveTable struct{ s *Store }

func (t cveTable) Find(ctx context.Context, key string) (model.ReferenceRow, bool, error) {
	return t.s.findReference(ctx, `SELECT id, updated_at FROM cves WHERE cve_id = ?`, key)
}

func (t cveTable) Insert(ctx context.Context, key string, c model.CVE) (model.ReferenceRow, error) {
	return t.s.insertReference(ctx, "cve", key, `
		INSERT INTO cves (cve_id, severity, package_name, title, description, refs, remediation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cve_id) DO NOTHING
		RETURNING id, updated_at
	`, key, string(c.Severity), c.PackageName, c.Title, c.Description, c.References, nullableString(c.Remediation), nanos(t.s.now()))
}

func (t cveTable) Update(ctx context.Context, key string, c model.CVE) error {
	_, err := t.s.conn.ExecContext(ctx, `
		UPDATE cves
		SET severity = ?, package_name = ?, title = ?, description = ?, refs = ?, remediation = ?, updated_at = ?
		WHERE cve_id = ?
	`, string(c.Severity), c.PackageName, c.Title, c.Description, c.References, nullableString(c.Remediation), nanos(t.s.now()), key)
	return err
}
