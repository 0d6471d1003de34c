package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "veriledger/pkg/domain-errors"
)

const defaultTimeout = 5 * time.Second

// Runner executes fn as one unit of work. Stores reached through the ctx passed
// to fn write through the same transaction.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PostgresRunner opens a database transaction per call.
type PostgresRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresRunner(db *sql.DB) *PostgresRunner {
	return &PostgresRunner{db: db, timeout: defaultTimeout}
}

func (r *PostgresRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	// Nested calls join the outer transaction.
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// NopRunner runs fn directly. In-memory stores have no transaction to join.
type NopRunner struct{}

func (NopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}
