package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Runner is the transaction boundary: every state-mutating operation
// runs entirely inside one call to WithTx or WithSerializableTx. Exactly
// one of commit/rollback happens per call; the structure makes a double
// ending impossible (rollback is deferred and becomes a no-op once the
// commit has gone through).
type Runner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error

	// WithSerializableTx is for operations whose correctness depends on
	// a read-check-write sequence (quota gates): the store turns a
	// concurrent violation into a serialization failure instead of
	// letting both writers pass the check.
	WithSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type pgxRunner struct {
	pool *pgxpool.Pool
}

func (r *pgxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.run(ctx, pgx.TxOptions{}, fn)
}

func (r *pgxRunner) WithSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (r *pgxRunner) run(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// No-op (ErrTxClosed) after a successful commit.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
