package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

// PostgreSQL SQLSTATE codes the services react to.
const (
	CodeUniqueViolation      = "23505"
	CodeCheckViolation       = "23514"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ConstraintName returns the violated constraint, or "" for other errors.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func IsUniqueViolation(err error) bool {
	return pgCode(err) == CodeUniqueViolation
}

func IsCheckViolation(err error) bool {
	return pgCode(err) == CodeCheckViolation
}

func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == CodeForeignKeyViolation
}

// IsRetryable reports whether the transaction that produced err can be
// replayed from the start.
func IsRetryable(err error) bool {
	switch pgCode(err) {
	case CodeSerializationFailure, CodeDeadlockDetected:
		return true
	}
	return false
}

// Classify maps driver failures to application errors. what names the
// entity for NotFound messages. Errors it does not recognise are returned
// unchanged so callers can wrap them as internal.
func Classify(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return apperr.NotFound("%s not found", what)
	case IsUniqueViolation(err):
		return &apperr.Error{Kind: apperr.KindConflict, Code: apperr.CodeDuplicate,
			Message: fmt.Sprintf("%s already exists", what), Err: err}
	case IsForeignKeyViolation(err):
		return &apperr.Error{Kind: apperr.KindValidation, Code: "validation",
			Message: fmt.Sprintf("%s references a missing record", what), Err: err}
	case IsCheckViolation(err):
		return &apperr.Error{Kind: apperr.KindConflict, Code: apperr.CodeConcurrentUpdate,
			Message: fmt.Sprintf("%s violates %s", what, ConstraintName(err)), Err: err}
	}
	return err
}

// StoreError classifies err and, when it is not an application error,
// logs it with the failing operation and wraps it as internal.
func StoreError(logger zerolog.Logger, op, what string, err error) error {
	if err == nil {
		return nil
	}
	err = Classify(err, what)
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	logger.Error().Err(err).Str("op", op).Msg("store failure")
	return apperr.Internal(err, "%s failed", op)
}
