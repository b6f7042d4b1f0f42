package errors

import "errors"

// Sentinel errors shared across the pipeline. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrGeneration indicates that the text generation service failed while
	// composing the final answer. It is the only hard failure of a query.
	ErrGeneration = errors.New("answer generation failed")

	// ErrUnsupportedBackend indicates a configured provider or store is unknown
	ErrUnsupportedBackend = errors.New("unsupported backend")

	// ErrRateLimited indicates that the caller exceeded the request budget
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
