// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned by a page fetch when the remote answered 429.
// The paginator handles it with backoff; it never reaches the orchestrator
// unless the configured retry ceiling is exhausted.
var ErrRateLimited = errors.New("remote api rate limit exceeded")

// ErrMissingConfig is returned when a required configuration field is empty.
type ErrMissingConfig struct {
	Field string
	Hint  string
}

func (e *ErrMissingConfig) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s is a required configuration field (%s)", e.Field, e.Hint)
	}
	return fmt.Sprintf("%s is a required configuration field", e.Field)
}

// ErrInvalidConfig is returned when a configuration field has an unusable value.
type ErrInvalidConfig struct {
	Field  string
	Value  string
	Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// DecodeError is returned when a page body cannot be decoded into typed
// records, either because it is not valid JSON or because a required field
// is missing.
type DecodeError struct {
	URL    string
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("decode page %s: field %q: %s", e.URL, e.Field, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("decode page %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("decode page %s: %s", e.URL, e.Reason)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// APIError is a non-2xx, non-429 answer from the remote API.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote api error %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// UnitError attaches the unit of work to a failure isolated by the orchestrator.
type UnitError struct {
	Phase      string
	Repository string
	Branch     string
	Err        error
}

func (e *UnitError) Error() string {
	if e.Branch != "" {
		return fmt.Sprintf("%s phase failed for %s@%s: %v", e.Phase, e.Repository, e.Branch, e.Err)
	}
	if e.Repository != "" {
		return fmt.Sprintf("%s phase failed for %s: %v", e.Phase, e.Repository, e.Err)
	}
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// IsDecode reports whether err is, or wraps, a DecodeError.
func IsDecode(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

// IsRateLimited reports whether err is, or wraps, ErrRateLimited.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
