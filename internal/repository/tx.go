package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrVersionConflict is returned by UpdateInstance when the optimistic-lock
// version check fails.
var ErrVersionConflict = errors.New("instance version conflict")

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

type txKey struct{}

// PgxTxManager runs closures in READ COMMITTED transactions on a pgx pool.
// The transaction handle travels in the context so nested store calls share
// it.
type PgxTxManager struct {
	pool *pgxpool.Pool
}

// NewPgxTxManager creates a new PgxTxManager.
func NewPgxTxManager(pool *pgxpool.Pool) *PgxTxManager {
	return &PgxTxManager{pool: pool}
}

// ReadCommitted executes fn inside a READ COMMITTED transaction, committing
// on nil and rolling back on error. Re-entrant calls reuse the ambient
// transaction.
func (m *PgxTxManager) ReadCommitted(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NoopTxManager satisfies TxManager without transactional semantics; used
// with the in-memory store.
type NoopTxManager struct{}

// ReadCommitted runs fn directly.
func (NoopTxManager) ReadCommitted(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
