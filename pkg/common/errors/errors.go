// Package errors defines the error taxonomy shared by goquota packages.
package errors

import (
	"errors"
	"fmt"
)

// Common error types used across the goquota library

var (
	// ErrStoreUnavailable indicates that the shared store could not be reached
	// or did not answer before the deadline.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrProcedureFailed indicates that an atomic procedure raised an error
	// or returned a reply that could not be decoded.
	ErrProcedureFailed = errors.New("procedure execution failed")

	// ErrUnknownProcedure indicates that no procedure is registered under a name.
	ErrUnknownProcedure = errors.New("unknown procedure")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrRateLimited indicates that a request was rate limited
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates that an operation was attempted on a closed resource
	ErrClosed = errors.New("resource is closed")
)

// ValidationError describes a configuration value that was rejected before
// any store round trip.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError without a hint.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint sets a remediation hint and returns the same error for chaining.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap returns ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// StoreError reports a shared store that was unreachable, timed out or
// refused to serve the request.
type StoreError struct {
	Operation string
	Err       error
}

// NewStoreError wraps err as a StoreError for the given operation.
func NewStoreError(operation string, err error) *StoreError {
	return &StoreError{Operation: operation, Err: err}
}

func (e *StoreError) Error() string {
	return "store unavailable in " + e.Operation + ": " + e.Err.Error()
}

// Unwrap returns the underlying client error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// ProcedureError reports a failure raised inside an atomic procedure, or a
// reply that does not match the procedure's reply layout.
type ProcedureError struct {
	Procedure string
	Err       error
}

// NewProcedureError wraps err as a ProcedureError for the named procedure.
func NewProcedureError(procedure string, err error) *ProcedureError {
	return &ProcedureError{Procedure: procedure, Err: err}
}

func (e *ProcedureError) Error() string {
	return "procedure " + e.Procedure + " failed: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ProcedureError) Unwrap() error {
	return e.Err
}

// Is matches ErrProcedureFailed.
func (e *ProcedureError) Is(target error) bool {
	return target == ErrProcedureFailed
}

// IsRetryable returns true if the error indicates a condition that might
// be resolved by retrying the operation
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsTemporary returns true if the error indicates a temporary condition
func IsTemporary(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTimeout)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsStoreUnavailable reports whether err is a StoreUnavailable condition.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsProcedureError reports whether err is a ProcedureExecutionError.
func IsProcedureError(err error) bool {
	return errors.Is(err, ErrProcedureFailed)
}
