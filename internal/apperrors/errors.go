// Package apperrors defines the error taxonomy the core surfaces to callers
// and maps each kind to the HTTP status code the transport layer returns.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the application-level error taxonomy every layer of the
// core maps its failures onto.
type Kind string

const (
	KindAccessDenied    Kind = "AccessDenied"
	KindInvalidArtifact Kind = "InvalidArtifact"
	KindNotFound        Kind = "NotFound"
	KindConflict        Kind = "Conflict"
	KindInternal        Kind = "Internal"
)

// Error is a typed application error carrying a Kind, used to decide the
// HTTP status code.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind, preserving cause for %w chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// AccessDenied constructs a KindAccessDenied error.
func AccessDenied(format string, args ...any) *Error {
	return New(KindAccessDenied, fmt.Sprintf(format, args...))
}

// InvalidArtifact constructs a KindInvalidArtifact error.
func InvalidArtifact(format string, args ...any) *Error {
	return New(KindInvalidArtifact, fmt.Sprintf(format, args...))
}

// NotFound constructs a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// Conflict constructs a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

// Internal wraps a lower-level failure (database, I/O) as a KindInternal
// error.
func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindInternal, fmt.Sprintf(format, args...), cause)
}

// HTTPStatus maps an error's Kind to the HTTP status code the transport
// layer returns for it. Errors that are not *Error map to 500.
func HTTPStatus(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case KindAccessDenied:
		return http.StatusForbidden
	case KindInvalidArtifact:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err is
// not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
