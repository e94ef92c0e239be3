// Package apperr defines the error kinds shared by every domain service so
// that handlers and tests can branch on the kind of failure instead of
// parsing message strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindAuthorization
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to the status code returned to API clients.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Machine readable codes for the conflicts clients are expected to handle.
const (
	CodeInsufficientStock  = "insufficient_stock"
	CodeInvalidTransition  = "invalid_transition"
	CodeQueueClosed        = "queue_closed"
	CodeQueueAlreadyOpen   = "queue_already_open"
	CodeDuplicate          = "duplicate"
	CodeConcurrentUpdate   = "concurrent_update"
	CodeInvalidCredentials = "invalid_credentials"
)

// Error is the concrete error type returned by services.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and code, so sentinel values
// such as ErrInsufficientStock work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// Public returns the message safe to show to API clients. Internal errors
// never leak their cause.
func (e *Error) Public() string {
	if e.Kind == KindInternal {
		return "internal server error"
	}
	return e.Message
}

func newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, "validation", format, args...)
}

func Unauthenticated(format string, args ...interface{}) *Error {
	return newf(KindUnauthenticated, "unauthenticated", format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindAuthorization, "forbidden", format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, "not_found", format, args...)
}

// Conflict builds a conflict error carrying one of the Code* constants.
func Conflict(code, format string, args ...interface{}) *Error {
	return newf(KindConflict, code, format, args...)
}

// Internal wraps an unexpected failure, typically from the store.
func Internal(err error, format string, args ...interface{}) *Error {
	e := newf(KindInternal, "internal", format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the code of err, or "internal" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
