package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrDuplicateEmail = errors.New("email already registered")
	ErrDuplicateSlug  = errors.New("workspace slug taken")
	ErrDuplicate      = errors.New("duplicate record")
)

const uniqueViolation = "23505"

// mapUniqueViolation traduce violaciones de unicidad de Postgres a errores del repositorio.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return ErrDuplicateEmail
	case "workspaces_slug_key":
		return ErrDuplicateSlug
	default:
		return ErrDuplicate
	}
}
