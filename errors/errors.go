// Package errors provides error handling for ytmp3.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Error marks for classifying failures across wrapping layers
//
// Usage:
//
//	// Wrap with context
//	if err := store.GetJob(ctx, key); err != nil {
//	    return errors.Wrapf(err, "failed to get job %s", key)
//	}
//
//	// Classify a collaborator failure as transient
//	return errors.MarkTransient(err)
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"context"

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
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Marks
var (
	Mark = crdb.Mark
)

// Common sentinel errors for use across ytmp3.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a resource conflict (e.g., duplicate key)
	ErrConflict = New("resource conflict")

	// ErrTransient marks collaborator failures that are safe to retry from scratch
	ErrTransient = New("transient infrastructure failure")

	// ErrMalformedMessage indicates a queue payload that carries no usable key
	ErrMalformedMessage = New("malformed queue message")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// MarkTransient marks err as a TransientInfraError. Context deadlines are
// additionally marked with ErrTimeout so callers can tell them apart.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	if Is(err, context.DeadlineExceeded) {
		err = Mark(err, ErrTimeout)
	}
	return Mark(err, ErrTransient)
}

// IsTransient reports whether err was marked by MarkTransient.
func IsTransient(err error) bool {
	return err != nil && Is(err, ErrTransient)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}
