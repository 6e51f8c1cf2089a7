package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the ledger cares about.
const (
	codeImmutable            = "LG001"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
)

var (
	// ErrImmutableEntry is returned when storage rejects an update or delete of
	// a committed ledger row.
	ErrImmutableEntry = errors.New("ledger entry is immutable")
	// ErrTransient marks failures that rolled back cleanly and are safe to retry.
	ErrTransient = errors.New("transient storage failure")
)

// Classify wraps err with ErrImmutableEntry or ErrTransient when the
// underlying cause matches; other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsImmutableViolation(err) {
		return fmt.Errorf("%w: %w", ErrImmutableEntry, err)
	}
	if IsTransient(err) && !errors.Is(err, ErrTransient) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// IsUniqueViolation reports a unique constraint failure, optionally for a
// specific constraint or index name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsCheckViolation reports a CHECK constraint failure.
func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeCheckViolation
}

// IsImmutableViolation reports a rejection by the append-only triggers.
func IsImmutableViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeImmutable
}

// IsTransient reports lock timeouts, deadlocks, serialization failures and
// lost connections.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled, codeAdminShutdown:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
