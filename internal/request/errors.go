package request

import "errors"

// Sentinel errors for the request package.
var (
	// ErrNotFound is returned when a request record is not found.
	ErrNotFound = errors.New("request not found")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)
