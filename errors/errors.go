// Package errors provides error handling for tally.
//
// This package re-exports github.com/cockroachdb/errors (stack traces,
// wrapping, hints and details) and defines the error classes the
// clustering pipeline reports to its callers.
//
// Usage:
//
//	// Wrap with context
//	if err := store.CommitRun(ctx, run); err != nil {
//	    return errors.Wrap(err, "failed to commit cluster run")
//	}
//
//	// Classify
//	return errors.InsufficientDataf("need more than %d points, got %d", k, n)
//
//	// Check
//	if errors.IsInsufficientData(err) {
//	    // informational, not a failure
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions for states the algorithms rule out
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Error classes. Wrap these with the helpers below so the class survives
// further wrapping and can be checked with errors.Is.
var (
	// ErrInsufficientData means fewer usable points than an algorithm needs.
	// Callers report it as an informational outcome, not a failure.
	ErrInsufficientData = New("insufficient data")

	// ErrMalformedInput means inconsistent dimensions, invalid distances or
	// a broken tree shape. Always a hard failure.
	ErrMalformedInput = New("malformed input")

	// ErrUpstreamRateLimited means the embedding service kept rejecting
	// requests after every retry was spent.
	ErrUpstreamRateLimited = New("upstream rate limited")

	// ErrUpstreamUnavailable means persistence or the embedding service
	// could not be reached. The operation may be retried.
	ErrUpstreamUnavailable = New("upstream unavailable")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")
)

// InsufficientDataf returns a new error classed as ErrInsufficientData.
func InsufficientDataf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInsufficientData)
}

// MalformedInputf returns a new error classed as ErrMalformedInput.
func MalformedInputf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrMalformedInput)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// WrapUnavailable marks err as ErrUpstreamUnavailable with context.
func WrapUnavailable(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrUpstreamUnavailable)
}

// IsInsufficientData checks if an error is or wraps ErrInsufficientData
func IsInsufficientData(err error) bool {
	return err != nil && Is(err, ErrInsufficientData)
}

// IsMalformedInput checks if an error is or wraps ErrMalformedInput
func IsMalformedInput(err error) bool {
	return err != nil && Is(err, ErrMalformedInput)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsRetryable reports whether the caller may retry the operation later.
func IsRetryable(err error) bool {
	return err != nil && IsAny(err, ErrUpstreamUnavailable, ErrUpstreamRateLimited)
}
