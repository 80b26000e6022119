package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound           = errors.New("requested resource not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrForbidden          = errors.New("forbidden access")
	ErrBadRequest         = errors.New("bad request")
	ErrConflict           = errors.New("resource conflict") // e.g., battle no longer running
	ErrInternalServer     = errors.New("internal server error")
	ErrValidation         = errors.New("validation failed")
	ErrServiceUnavailable = errors.New("service unavailable") // e.g. sandbox or store down after retries
)

// ConflictError reports a state-machine conflict together with the state the
// resource is currently in, so callers can surface it.
type ConflictError struct {
	Resource string
	State    string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s is %s: %s", e.Resource, e.State, e.Reason)
	}
	return fmt.Sprintf("%s is %s", e.Resource, e.State)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StateConflict builds a ConflictError.
func StateConflict(resource, state, reason string) error {
	return &ConflictError{Resource: resource, State: state, Reason: reason}
}

// ConflictState extracts the current state carried by a conflict, if any.
func ConflictState(err error) (string, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.State, true
	}
	return "", false
}

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrValidation) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrServiceUnavailable) {
		return http.StatusServiceUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // Unique violation
			return http.StatusConflict
		}
	}

	return http.StatusInternalServerError
}

// PublicMessage is the message shown to API callers. Server-side failures are
// reduced to a generic text; the full error is expected to be logged.
func PublicMessage(err error) string {
	if HTTPStatusFromError(err) >= http.StatusInternalServerError && !errors.Is(err, ErrServiceUnavailable) {
		return ErrInternalServer.Error()
	}
	return err.Error()
}

// Errorf creates a new error with formatting, useful for wrapping.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
