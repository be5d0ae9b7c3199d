package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/truthsignal/consensus-engine/internal/model"
)

const uniqueViolation = "23505"

// wrapErr maps driver errors onto the model sentinels.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, model.ErrConflict, pgErr.ConstraintName)
	}
	// Validation and sentinel errors from callbacks pass through untouched.
	for _, sentinel := range []error{model.ErrValidation, model.ErrConflict, model.ErrNotFound, model.ErrStorage} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %v", op, model.ErrStorage, err)
}
