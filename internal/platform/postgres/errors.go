package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	codeUniqueViolation = "23505"
	codeRaiseException  = "P0001"
)

// IsUniqueViolation reports whether err is a unique constraint violation,
// whichever driver produced it.
func IsUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}

// ConstraintName returns the violated constraint, or "".
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

// IsImmutableViolation reports whether err came from the triggers that reject
// UPDATE and DELETE on insert-only tables.
func IsImmutableViolation(err error) bool {
	return sqlState(err) == codeRaiseException
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
