package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound       = errors.New("requested resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden access")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("resource conflict") // e.g., job id already stored
	ErrInternalServer = errors.New("internal server error")

	// Submission error taxonomy. Everything except ErrTransientSubmission is terminal for a job.
	ErrValidation          = errors.New("validation failed")
	ErrAdapterUnavailable  = errors.New("no adapter available for portal")
	ErrFormatting          = errors.New("submission formatting failed")
	ErrTransientSubmission = errors.New("portal submission failed")
	ErrDeadlineExceeded    = errors.New("deadline passed")

	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrJobTerminal       = errors.New("job already in a terminal state")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobLockFailed     = errors.New("failed to acquire job lock")
)

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
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrValidation) || errors.Is(err, ErrAdapterUnavailable) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrJobTerminal) || errors.Is(err, ErrInvalidTransition) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrRetriesExhausted) || errors.Is(err, ErrDeadlineExceeded) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, ErrJobLockFailed) || errors.Is(err, ErrTransientSubmission) {
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

// Errorf creates a new error with formatting, useful for wrapping.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
