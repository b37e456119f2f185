package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

func (s *Store) ListOwnership(ctx context.Context) ([]model.OwnershipEntry, error) {
	rows, err := s.Pool.Query(ctx, `SELECT component_id, owner, updated_at FROM ownership`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OwnershipEntry, error) {
		var e model.OwnershipEntry
		err := row.Scan(&e.ComponentID, &e.Owner, &e.UpdatedAt)
		return e, err
	})
}

func (s *Store) UpsertOwnership(ctx context.Context, entries []model.OwnershipEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO ownership (component_id, owner, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (component_id) DO UPDATE SET
			  owner = EXCLUDED.owner,
			  updated_at = EXCLUDED.updated_at
		`, e.ComponentID, e.Owner, e.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert ownership: %w", err)
	}
	return tx.Commit(ctx)
}
