package memory

import (
	"context"
	"sync"

	"github.com/tendant/post-engine/pkg/postengine"
)

// Boundary implements postengine.TransactionBoundary over an in-memory
// repository by cloning the repository state up front and restoring it when
// the transaction must not persist. Transactions are serialized by a
// dedicated mutex, which gives the check-then-write sequences inside a
// commit the isolation the engine requires.
type Boundary struct {
	txMu sync.Mutex
	repo *Repository
}

var _ postengine.TransactionBoundary = (*Boundary)(nil)

// NewBoundary creates a transaction boundary over the given repository.
func NewBoundary(repo *Repository) *Boundary {
	return &Boundary{repo: repo}
}

// Commit runs fn; on error every store write fn made is rolled back.
func (b *Boundary) Commit(ctx context.Context, fn func(ctx context.Context) error) error {
	b.txMu.Lock()
	defer b.txMu.Unlock()

	saved := b.repo.snapshotState()
	if err := fn(ctx); err != nil {
		b.repo.restoreState(saved)
		return err
	}
	return nil
}

// Rollback runs fn and discards its writes regardless of outcome.
func (b *Boundary) Rollback(ctx context.Context, fn func(ctx context.Context) error) error {
	b.txMu.Lock()
	defer b.txMu.Unlock()

	saved := b.repo.snapshotState()
	err := fn(ctx)
	b.repo.restoreState(saved)
	return err
}
