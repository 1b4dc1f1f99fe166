package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/tasker/internal/store"
)

// SQLSTATE codes the tasks table can raise on write.
const (
	codeUniqueViolation  = "23505"
	codeCheckViolation   = "23514"
	codeNotNullViolation = "23502"
	codeStringTooLong    = "22001"
)

// MapError translates driver errors into store sentinels so callers never
// import pgx. Errors it does not recognise come back unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	case codeCheckViolation:
		return fmt.Errorf("%w: violates %s", store.ErrInvalidEntity, pgErr.ConstraintName)
	case codeNotNullViolation:
		return fmt.Errorf("%w: %s must not be null", store.ErrInvalidEntity, pgErr.ColumnName)
	case codeStringTooLong:
		return fmt.Errorf("%w: value too long for %s", store.ErrInvalidEntity, pgErr.ColumnName)
	default:
		return err
	}
}

// IsUniqueViolation reports whether err carries SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
