package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/juju/errors"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

func (s *Store) SaveAuditResult(ctx context.Context, audit *model.Audit) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO components (component_id, component_name, scanner_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (component_id) DO UPDATE SET
			component_name = excluded.component_name,
			scanner_id = excluded.scanner_id,
			updated_at = MAX(components.updated_at, excluded.updated_at)
	`, audit.ComponentID, audit.ComponentName, audit.ScannerID, nanos(audit.Date))
	if err != nil {
		return fmt.Errorf("upsert component: %w", err)
	}

	var rowID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO audits (audit_id, date, audit_day, scanner_id, component_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (audit_id) DO NOTHING
		RETURNING id
	`, audit.ID, nanos(audit.Date), dayKey(audit.Date), audit.ScannerID, audit.ComponentID).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.AlreadyExistsf("audit %s", audit.ID)
	}
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO check_results (audit_row_id, check_row_id, component_id, value, message)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range audit.CheckResults {
		if _, err := stmt.ExecContext(ctx, rowID, r.InternalCheckID, r.ComponentID, string(r.Value), nullableString(r.Message)); err != nil {
			return fmt.Errorf("insert check result %s: %w", r.ExternalCheckID, err)
		}
	}

	for table, blob := range map[string]*model.MetadataBlob{"metadata_azure": audit.MetadataAzure, "metadata_kube": audit.MetadataKube} {
		if blob == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+table+` (audit_row_id, date, json) VALUES (?, ?, ?)`,
			rowID, nanos(blob.Date), blob.JSON); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *Store) SaveImageScanResult(ctx context.Context, scan *model.ImageScanResult) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var rowID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO image_scans (external_id, date, image_tag, status, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id
	`, scan.ID, nanos(scan.Date), scan.ImageTag, string(scan.Status), nullableString(scan.Description)).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.AlreadyExistsf("image scan %s", scan.ID)
	}
	if err != nil {
		return fmt.Errorf("insert image scan: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO image_scan_cves (scan_row_id, cve_row_id, target, used_package_version)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range scan.FoundCVEs {
		if _, err := stmt.ExecContext(ctx, rowID, c.InternalCVEID, c.Target, c.UsedPackageVersion); err != nil {
			return fmt.Errorf("insert image scan cve %s: %w", c.ExternalCVEID, err)
		}
	}
	return tx.Commit()
}

// ImageScanCVEs returns the external CVE ids found by the stored scan.
func (s *Store) ImageScanCVEs(ctx context.Context, scanID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT c.cve_id
		FROM image_scan_cves sc
		JOIN image_scans i ON i.id = sc.scan_row_id
		JOIN cves c ON c.id = sc.cve_row_id
		WHERE i.external_id = ?
		ORDER BY sc.id
	`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
