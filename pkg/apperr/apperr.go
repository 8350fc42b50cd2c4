// Package apperr carries the error taxonomy shared by the market core:
// a machine-readable kind, a human-readable message and, for rate-limited
// denials, a retry-after hint.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	InvalidArgument      Kind = "invalid_argument"
	Unauthorized         Kind = "unauthorized"
	NotFound             Kind = "not_found"
	InsufficientPosition Kind = "insufficient_position"
	UpstreamUnavailable  Kind = "upstream_unavailable"
	RateLimited          Kind = "rate_limited"
	StoreFailure         Kind = "store_failure"
)

type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // only set for RateLimited
	Err        error         // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Limited builds a RateLimited error with the retry hint callers surface as
// "try again in N seconds".
func Limited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       RateLimited,
		Message:    fmt.Sprintf("rate limited, try again in %d seconds", int(retryAfter.Seconds())),
		RetryAfter: retryAfter,
	}
}

// KindOf extracts the Kind from err; the empty Kind means err did not come
// from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
