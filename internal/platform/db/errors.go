package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// SQLSTATE codes the engine reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
)

// Classify maps driver errors onto the shared taxonomy. Errors that already carry
// a classification and context cancellations are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if shared.IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
			return fmt.Errorf("%w: %w", shared.ErrAllocationConflict, err)
		case CodeUniqueViolation:
			return fmt.Errorf("%w: %w", shared.ErrDuplicate, err)
		}
	}
	return fmt.Errorf("%w: %w", shared.ErrPersistence, err)
}

// IsUniqueViolation reports whether err is a unique violation, optionally on the
// named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
