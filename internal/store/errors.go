package store

import (
	"errors"

	"bingo-coordinator/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrRowChanged          = errors.New("row changed")
	ErrDuplicate           = errors.New("duplicate")
	ErrAlreadyWon          = errors.New("already won")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// classify maps driver errors onto store sentinels and marks the retryable
// Postgres failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001":
			return apperr.Transient("serialization_failure", err)
		case "40P01":
			return apperr.Transient("deadlock_detected", err)
		case "55P03":
			return apperr.Transient("lock_timeout", err)
		case "57014":
			return apperr.Transient("query_canceled", err)
		case "23505":
			return ErrDuplicate
		}
	}
	return err
}
