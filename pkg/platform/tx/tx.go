package tx

import (
	"context"
	"database/sql"
	"sync"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner executes fn as one atomic unit. SQL-backed runners begin a
// transaction, thread it through the context via WithTx, and roll back when fn
// returns an error. Stores pick the transaction up through From.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// MutexRunner serializes units of work behind a single lock. It backs the
// in-memory store configuration, where serialization is the only way to make a
// composite write observable as one unit.
type MutexRunner struct {
	mu sync.Mutex
}

func NewMutexRunner() *MutexRunner { return &MutexRunner{} }

func (r *MutexRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
