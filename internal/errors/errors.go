// Package errors provides error code definitions for the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique, machine-readable error code.
type ErrorCode string

const (
	// ErrNotFound signals an operation on an absent record id. Returned to
	// the caller immediately, never queued.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrValidation signals that the remote service rejected the payload.
	// Surfaced to the caller synchronously and never queued, since
	// retrying an invalid payload cannot succeed.
	ErrValidation ErrorCode = "VALIDATION_REJECTED"

	// ErrTransient signals that the network or remote service was
	// unavailable. The mutation is queued for retry and the caller still
	// receives the locally-applied result.
	ErrTransient ErrorCode = "TRANSIENT_FAILURE"

	// ErrRetryExhausted signals that a queue item failed MaxRetries times
	// and was dropped.
	ErrRetryExhausted ErrorCode = "RETRY_EXHAUSTED"

	// ErrConflictPending signals an unresolved conflict awaiting manual
	// resolution.
	ErrConflictPending ErrorCode = "CONFLICT_PENDING"

	// ErrSyncBusy signals that a sync pass is already in flight. Callers
	// treat this as a no-op, not a failure.
	ErrSyncBusy ErrorCode = "SYNC_IN_PROGRESS"

	// ErrUnknownTable signals an operation against a table that was never
	// registered.
	ErrUnknownTable ErrorCode = "UNKNOWN_TABLE"

	// ErrStorage signals a local persistence failure.
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// ErrConfig signals invalid or missing configuration.
	ErrConfig ErrorCode = "CONFIG_ERROR"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code. Wrapping preserves an
// inner AppError's code for CodeOf and Is lookups via Unwrap.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// CodeOf returns the outermost error code in the chain, or ErrStorage
// when the error is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrStorage
}

// IsTransient reports whether the error should be retried.
func IsTransient(err error) bool {
	return Is(err, ErrTransient)
}

// IsNotFound reports whether the error means the record is absent.
func IsNotFound(err error) bool {
	return Is(err, ErrNotFound)
}
