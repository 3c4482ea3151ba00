package mail

import (
	"errors"
	"fmt"
)

// Sentinel errors for the mail service.
var (
	// ErrServerUnavailable indicates the mail server could not be reached.
	ErrServerUnavailable = errors.New("mail server unavailable")

	// ErrUnauthorized indicates the bearer token was missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTimeout indicates the request exceeded its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrReservationConflict indicates one or more paths are held by
	// another agent.
	ErrReservationConflict = errors.New("file reservation conflict")
)

// APIError wraps an error with the operation and HTTP status that produced it.
type APIError struct {
	Operation  string
	StatusCode int
	Err        error
}

// NewAPIError creates an APIError.
func NewAPIError(operation string, statusCode int, err error) *APIError {
	return &APIError{Operation: operation, StatusCode: statusCode, Err: err}
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("mail %s (status %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("mail %s: %v", e.Operation, e.Err)
}

// Unwrap returns the inner error.
func (e *APIError) Unwrap() error { return e.Err }

// IsServerUnavailable reports whether err wraps ErrServerUnavailable.
func IsServerUnavailable(err error) bool { return errors.Is(err, ErrServerUnavailable) }

// IsUnauthorized reports whether err wraps ErrUnauthorized.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTimeout reports whether err wraps ErrTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsReservationConflict reports whether err wraps ErrReservationConflict.
func IsReservationConflict(err error) bool { return errors.Is(err, ErrReservationConflict) }
