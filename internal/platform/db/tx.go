package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onemanvan/fsm/internal/shared"
)

// WithTx runs fn as one repeatable-read unit of work. Guard reads and the
// writes that depend on them commit or roll back together; a concurrent
// writer that wins the race surfaces as shared.ErrConflict.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		if shared.IsSerializationFailure(err) || shared.IsUniqueViolation(err) {
			return shared.ClassifyPgError("platform/db: tx", err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return shared.ClassifyPgError("platform/db: commit tx", err)
	}

	return nil
}
