package sqlite

import (
	"context"
	"fmt"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

func (s *Store) ListOwnership(ctx context.Context) ([]model.OwnershipEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT component_id, owner, updated_at FROM ownership`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OwnershipEntry
	for rows.Next() {
		var (
			e       model.OwnershipEntry
			updated int64
		)
		if err := rows.Scan(&e.ComponentID, &e.Owner, &updated); err != nil {
			return nil, err
		}
		e.UpdatedAt = fromNanos(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpsertOwnership(ctx context.Context, entries []model.OwnershipEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ownership (component_id, owner, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (component_id) DO UPDATE SET
			owner = excluded.owner,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ComponentID, e.Owner, nanos(e.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert ownership %s: %w", e.ComponentID, err)
		}
	}
	return tx.Commit()
}
