package imposter

import "fmt"

// ValidationError reports a malformed predicate tree: an unrecognized operator
// name, or a value of the wrong shape where an object or list is required.
// It surfaces synchronously during matching and rejects the resolve call; a
// misconfigured stub is never silently treated as "never matches".
type ValidationError struct {
	// Field is the dot-composed request field path being evaluated.
	Field string

	// Operator is the offending predicate key.
	Operator string

	// Message describes what was wrong.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid predicate %q on field %q: %s", e.Operator, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid predicate %q: %s", e.Operator, e.Message)
}

// ResolutionError reports a failed response strategy: an unreachable proxied
// backend, a scripted routine raising, or a malformed response descriptor.
// The cause is surfaced verbatim; the core never retries.
type ResolutionError struct {
	// Strategy names the descriptor kind that failed (is, proxy, inject).
	Strategy string

	// Err is the underlying failure.
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s resolution failed: %v", e.Strategy, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
