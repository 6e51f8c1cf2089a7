// Package testutil provides an in-memory stand-in for pgx transactions so
// services can be exercised without Postgres.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
)

// TxBeginner hands out Tx values one at a time: Begin blocks until the
// previous transaction commits or rolls back, which stands in for the row
// locks the real repositories take.
//
// Snapshot is called on Begin and must return a function restoring the
// fake stores to their state at that point; it runs on rollback.
type TxBeginner struct {
	Snapshot  func() (restore func())
	BeginErr  error
	CommitErr error

	mu        sync.Mutex
	commits   atomic.Int64
	rollbacks atomic.Int64
}

// Tx implements pgx.Tx. Only Commit and Rollback are usable; any other
// method panics on the nil embedded interface.
type Tx struct {
	pgx.Tx
	b       *TxBeginner
	restore func()
	done    bool
}

func (b *TxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if b.BeginErr != nil {
		return nil, b.BeginErr
	}
	b.mu.Lock()
	if err := ctx.Err(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	restore := func() {}
	if b.Snapshot != nil {
		restore = b.Snapshot()
	}
	return &Tx{b: b, restore: restore}, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	defer t.b.mu.Unlock()
	if t.b.CommitErr != nil {
		t.restore()
		t.b.rollbacks.Add(1)
		return t.b.CommitErr
	}
	if err := ctx.Err(); err != nil {
		t.restore()
		t.b.rollbacks.Add(1)
		return err
	}
	t.b.commits.Add(1)
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.restore()
	t.b.rollbacks.Add(1)
	t.b.mu.Unlock()
	return nil
}

// Commits returns the number of committed transactions.
func (b *TxBeginner) Commits() int64 { return b.commits.Load() }

// Rollbacks returns the number of rolled back transactions.
func (b *TxBeginner) Rollbacks() int64 { return b.rollbacks.Load() }
