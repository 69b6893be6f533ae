package library

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrReservedScope = errors.New("reserved scope")
	ErrInvalidInput  = errors.New("invalid input")
	// ErrOrderMismatch is returned when a new global order is not a
	// permutation of the current one.
	ErrOrderMismatch = errors.New("order does not match library")
)

const pgForeignKeyViolation = "23503"

// mapPgError turns missing rows and foreign key violations into ErrNotFound.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrNotFound
	}
	return err
}
