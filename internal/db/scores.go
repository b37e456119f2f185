package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

func (s *Store) ListComponentIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT component_id FROM audits WHERE audit_day >= $1 ORDER BY component_id
	`, model.Day(since))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanAuditRows(rows pgx.Rows) ([]model.AuditRow, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AuditRow, error) {
		var a model.AuditRow
		err := row.Scan(&a.RowID, &a.AuditID, &a.ComponentID, &a.Date)
		return a, err
	})
}

// AuditsForComponent returns the latest audit of every day since the given
// time, oldest day first.
func (s *Store) AuditsForComponent(ctx context.Context, componentID string, since time.Time) ([]model.AuditRow, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT ON (audit_day) id, audit_id, component_id, date
		FROM audits
		WHERE component_id=$1 AND audit_day >= $2
		ORDER BY audit_day, date DESC
	`, componentID, model.Day(since))
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

func (s *Store) AuditForDay(ctx context.Context, componentID string, day time.Time) (*model.AuditRow, error) {
	var a model.AuditRow
	err := s.Pool.QueryRow(ctx, `
		SELECT id, audit_id, component_id, date
		FROM audits
		WHERE component_id=$1 AND audit_day=$2
		ORDER BY date DESC
		LIMIT 1
	`, componentID, model.Day(day)).Scan(&a.RowID, &a.AuditID, &a.ComponentID, &a.Date)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AuditsForDay returns the latest audit of every component on day.
func (s *Store) AuditsForDay(ctx context.Context, day time.Time) ([]model.AuditRow, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT ON (component_id) id, audit_id, component_id, date
		FROM audits
		WHERE audit_day=$1
		ORDER BY component_id, date DESC
	`, model.Day(day))
	if err != nil {
		return nil, err
	}
	return scanAuditRows(rows)
}

func (s *Store) CountersForAudit(ctx context.Context, auditRowID int64) (model.CountersSummary, error) {
	var summary model.CountersSummary
	rows, err := s.Pool.Query(ctx, `
		SELECT cr.value, c.severity, count(*)
		FROM check_results cr
		JOIN checks c ON c.id = cr.check_row_id
		WHERE cr.audit_row_id=$1
		GROUP BY cr.value, c.severity
	`, auditRowID)
	if err != nil {
		return summary, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			value, severity string
			n               int64
		)
		if err := rows.Scan(&value, &severity, &n); err != nil {
			return summary, err
		}
		summary.Tally(model.CheckValue(value), model.Severity(severity), int(n))
	}
	return summary, rows.Err()
}
