package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// StoreErrorKind classifies store failures for callers that branch on them.
type StoreErrorKind string

const (
	StoreTimeout             StoreErrorKind = "timeout"
	StoreConflict            StoreErrorKind = "conflict"
	StoreConstraintViolation StoreErrorKind = "constraint_violation"
	StoreUnavailable         StoreErrorKind = "unavailable"
)

type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// storeErr wraps a pgx error with a StoreError kind when it matches a
// known failure class. pgx.ErrNoRows maps to ErrNotFound; anything
// unrecognized is wrapped with the operation name only.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StoreError{Kind: StoreTimeout, Op: op, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return &StoreError{Kind: StoreConflict, Op: op, Err: err}
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23": // integrity constraint class
			return &StoreError{Kind: StoreConstraintViolation, Op: op, Err: err}
		case pgErr.Code == "57014": // query_canceled (statement timeout)
			return &StoreError{Kind: StoreTimeout, Op: op, Err: err}
		case len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57"):
			return &StoreError{Kind: StoreUnavailable, Op: op, Err: err}
		}
	}
	if pgconn.Timeout(err) {
		return &StoreError{Kind: StoreTimeout, Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
