// Package tx carries an open SQL transaction through a context so stores that
// participate in a unit of work (sealing a correction entry and recording the
// decision that produced it) write through the same transaction.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// Executor is the subset of *sql.DB and *sql.Tx used by the stores.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

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

// Exec returns the transaction in ctx, falling back to db.
func Exec(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}
