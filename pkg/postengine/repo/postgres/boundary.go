package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/post-engine/pkg/postengine"
)

type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Boundary implements postengine.TransactionBoundary over pgx transactions.
// The transaction is carried in the context handed to fn, and every
// Repository query issued through that context runs inside it.
type Boundary struct {
	pool *pgxpool.Pool
}

var _ postengine.TransactionBoundary = (*Boundary)(nil)

// NewBoundary creates a transaction boundary over the given pool.
func NewBoundary(pool *pgxpool.Pool) *Boundary {
	return &Boundary{pool: pool}
}

// Commit runs fn inside a transaction that commits on success and rolls back
// on any error.
func (b *Boundary) Commit(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Rollback runs fn inside a transaction that is always rolled back; writes
// never persist regardless of outcome.
func (b *Boundary) Rollback(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	return fn(context.WithValue(ctx, txKey{}, tx))
}
