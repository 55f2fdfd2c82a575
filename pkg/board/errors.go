package board

import "errors"

// Error taxonomy for the coordination kernel.
//
// ErrValidation covers bad transitions, cycle-forming edges, and malformed
// identifiers: rejected synchronously, never partially applied.
// ErrStorage covers lock and atomic-write failures: surfaced to the caller
// for retry with backoff, never silently swallowed.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a structural invariant would be violated.
	ErrValidation = errors.New("validation failed")

	// ErrStorage indicates a lock or atomic-write failure.
	ErrStorage = errors.New("storage failure")
)

// IsNotFound reports whether err means a record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is a rejected structural invariant.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsStorage reports whether err is a lock or persistence failure.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}
