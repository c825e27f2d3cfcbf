package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "cardgate/pkg/domain-errors"
	"cardgate/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// postgresRunner runs lifecycle mutations in one database transaction. The
// transaction rides the context, so every store touched inside fn joins it.
type postgresRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func newPostgresRunner(db *sql.DB) *postgresRunner {
	return &postgresRunner{db: db}
}

func (r *postgresRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, dbTx)); err != nil {
		return err
	}
	return dbTx.Commit()
}
