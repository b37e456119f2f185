package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

// SaveAuditResult persists an audit with its check results and metadata in
// one transaction. Saving an audit id that is already stored changes nothing
// and returns an AlreadyExists error.
func (s *Store) SaveAuditResult(ctx context.Context, audit *model.Audit) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO components (component_id, component_name, scanner_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (component_id) DO UPDATE SET
		  component_name = EXCLUDED.component_name,
		  scanner_id = EXCLUDED.scanner_id,
		  updated_at = GREATEST(components.updated_at, EXCLUDED.updated_at)
	`, audit.ComponentID, audit.ComponentName, audit.ScannerID, audit.Date)
	if err != nil {
		return fmt.Errorf("upsert component: %w", err)
	}

	var rowID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO audits (audit_id, date, audit_day, scanner_id, component_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (audit_id) DO NOTHING
		RETURNING id
	`, audit.ID, audit.Date, model.Day(audit.Date), audit.ScannerID, audit.ComponentID).Scan(&rowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.AlreadyExistsf("audit %s", audit.ID)
	}
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}

	if err := batchInsertCheckResults(ctx, tx, rowID, audit.CheckResults); err != nil {
		return fmt.Errorf("batch insert check results: %w", err)
	}
	if err := insertMetadata(ctx, tx, "metadata_azure", rowID, audit.MetadataAzure); err != nil {
		return err
	}
	if err := insertMetadata(ctx, tx, "metadata_kube", rowID, audit.MetadataKube); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// batchInsertCheckResults inserts check results in groups of batchSize using
// multi-value INSERT statements.
func batchInsertCheckResults(ctx context.Context, tx pgx.Tx, auditRowID int64, results []model.CheckResult) error {
	for start := 0; start < len(results); start += batchSize {
		end := start + batchSize
		if end > len(results) {
			end = len(results)
		}
		chunk := results[start:end]

		const colCount = 5
		var sb strings.Builder
		sb.WriteString(`
INSERT INTO check_results (
  audit_row_id, check_row_id, component_id, value, message
) VALUES `)
		args := make([]interface{}, 0, len(chunk)*colCount)
		for i, r := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i*colCount + 1
			sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", base, base+1, base+2, base+3, base+4))
			args = append(args, auditRowID, r.InternalCheckID, r.ComponentID, string(r.Value), nullableString(r.Message))
		}
		if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

func insertMetadata(ctx context.Context, tx pgx.Tx, table string, auditRowID int64, blob *model.MetadataBlob) error {
	if blob == nil {
		return nil
	}
	_, err := tx.Exec(ctx, `INSERT INTO `+table+` (audit_row_id, date, json) VALUES ($1, $2, $3::jsonb)`,
		auditRowID, blob.Date, blob.JSON)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// SaveImageScanResult persists an image scan with its found CVEs. Saving a
// scan id that is already stored changes nothing and returns an
// AlreadyExists error.
func (s *Store) SaveImageScanResult(ctx context.Context, scan *model.ImageScanResult) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var rowID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO image_scans (external_id, date, image_tag, status, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id
	`, scan.ID, scan.Date, scan.ImageTag, string(scan.Status), nullableString(scan.Description)).Scan(&rowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.AlreadyExistsf("image scan %s", scan.ID)
	}
	if err != nil {
		return fmt.Errorf("insert image scan: %w", err)
	}

	for start := 0; start < len(scan.FoundCVEs); start += batchSize {
		end := start + batchSize
		if end > len(scan.FoundCVEs) {
			end = len(scan.FoundCVEs)
		}
		batch := &pgx.Batch{}
		for _, c := range scan.FoundCVEs[start:end] {
			batch.Queue(`
				INSERT INTO image_scan_cves (scan_row_id, cve_row_id, target, used_package_version)
				VALUES ($1, $2, $3, $4)
			`, rowID, c.InternalCVEID, c.Target, c.UsedPackageVersion)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("batch insert image scan cves: %w", err)
		}
	}
	return tx.Commit(ctx)
}
