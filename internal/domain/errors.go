package domain

import "errors"

// Domain errors
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUpstreamStatus   = errors.New("upstream returned non-success status")
	ErrInvalidPrice     = errors.New("invalid unit price")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}
