package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/juju/errors"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

func (s *Store) ListComponentIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT DISTINCT component_id FROM audits WHERE audit_day >= ? ORDER BY component_id
	`, dayKey(since))
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

func scanAuditRows(rows *sql.Rows) ([]model.AuditRow, error) {
	defer rows.Close()
	var out []model.AuditRow
	for rows.Next() {
		var (
			a    model.AuditRow
			date int64
		)
		if err := rows.Scan(&a.RowID, &a.AuditID, &a.ComponentID, &date); err != nil {
			return nil, err
		}
		a.Date = fromNanos(date)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AuditsForComponent(ctx context.Context, componentID string, since time.Time) ([]model.AuditRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, audit_id, component_id, date FROM (
			SELECT id, audit_id, component_id, date, audit_day,
				ROW_NUMBER() OVER (PARTITION BY audit_day ORDER BY date DESC, id DESC) AS rn
			FROM audits
			WHERE component_id = ? AND audit_day >= ?
		)
		WHERE rn = 1
		ORDER BY audit_day
	`, componentID, dayKey(since))
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

func (s *Store) AuditForDay(ctx context.Context, componentID string, day time.Time) (*model.AuditRow, error) {
	var (
		a    model.AuditRow
		date int64
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, audit_id, component_id, date
		FROM audits
		WHERE component_id = ? AND audit_day = ?
		ORDER BY date DESC, id DESC
		LIMIT 1
	`, componentID, dayKey(day)).Scan(&a.RowID, &a.AuditID, &a.ComponentID, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Date = fromNanos(date)
	return &a, nil
}

func (s *Store) AuditsForDay(ctx context.Context, day time.Time) ([]model.AuditRow, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, audit_id, component_id, date FROM (
			SELECT id, audit_id, component_id, date,
				ROW_NUMBER() OVER (PARTITION BY component_id ORDER BY date DESC, id DESC) AS rn
			FROM audits
			WHERE audit_day = ?
		)
		WHERE rn = 1
		ORDER BY component_id
	`, dayKey(day))
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

func (s *Store) CountersForAudit(ctx context.Context, auditRowID int64) (model.CountersSummary, error) {
	var summary model.CountersSummary
	rows, err := s.conn.QueryContext(ctx, `
		SELECT cr.value, c.severity, COUNT(*)
		FROM check_results cr
		JOIN checks c ON c.id = cr.check_row_id
		WHERE cr.audit_row_id = ?
		GROUP BY cr.value, c.severity
	`, auditRowID)
	if err != nil {
		return summary, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			value, severity string
			n               int
		)
		if err := rows.Scan(&value, &severity, &n); err != nil {
			return summary, err
		}
		summary.Tally(model.CheckValue(value), model.Severity(severity), n)
	}
	return summary, rows.Err()
}
