// Package errors defines the typed failures returned by the cache and the contract scheduler.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a failure class.
type ErrorCode string

const (
	// ErrCodeBackend indicates a backend accessor or record store failure.
	ErrCodeBackend ErrorCode = "BACKEND"
	// ErrCodeCancelled indicates a request superseded by a newer one for the same key.
	ErrCodeCancelled ErrorCode = "CANCELLED"
	// ErrCodeInvalidTransition indicates an illegal recurrence status change.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrCodeValidation indicates a malformed recurrence rule or request.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeNotFound indicates a missing record.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is a structured error carrying a code.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrCancelled is matched by every cancellation error via errors.Is.
var ErrCancelled = &Error{Code: ErrCodeCancelled, Message: "request superseded"}

// Backend wraps a backend failure. The cause is kept verbatim for errors.Is/As.
func Backend(msg string, cause error) *Error {
	return &Error{Code: ErrCodeBackend, Message: msg, Cause: cause}
}

// Cancelled creates a cancellation error for key.
func Cancelled(key string) *Error {
	return (&Error{Code: ErrCodeCancelled, Message: "request superseded"}).WithContext("key", key)
}

// InvalidTransition creates an error for an illegal status change.
func InvalidTransition(from, action string) *Error {
	return (&Error{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot %s a contract in status %q", action, from),
	}).WithContext("from", from).WithContext("action", action)
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: ErrCodeValidation, Message: msg}
}

// NotFound creates a not-found error.
func NotFound(msg string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: msg}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	return CodeOf(err) == ErrCodeCancelled
}

// IsInvalidTransition reports whether err is an illegal status change.
func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidTransition
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}
