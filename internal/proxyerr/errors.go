// Package proxyerr defines the typed failure taxonomy shared by every
// gateway component. Adapters and resolvers return *Error values; the
// handler layer maps them onto the JSON failure envelope so no unhandled
// error ever surfaces as an opaque 500.
package proxyerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable kind of a gateway failure.
type Code string

const (
	CodeUnsupportedType  Code = "UNSUPPORTED_TYPE"
	CodeMissingToken     Code = "MISSING_TOKEN"
	CodeInvalidToken     Code = "INVALID_TOKEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeLinkExpired      Code = "LINK_EXPIRED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeStorageError     Code = "STORAGE_ERROR"
	CodeNetworkError     Code = "NETWORK_ERROR"
	CodeValidationError  Code = "VALIDATION_ERROR"
)

// httpStatus maps every code to its HTTP status. A code missing here is a
// programming error; HTTPStatus falls back to 500 for safety.
var httpStatus = map[Code]int{
	CodeUnsupportedType:  http.StatusBadRequest,
	CodeMissingToken:     http.StatusUnauthorized,
	CodeInvalidToken:     http.StatusUnauthorized,
	CodeNotFound:         http.StatusNotFound,
	CodeLinkExpired:      http.StatusGone,
	CodePermissionDenied: http.StatusForbidden,
	CodeStorageError:     http.StatusInternalServerError,
	CodeNetworkError:     http.StatusServiceUnavailable,
	CodeValidationError:  http.StatusBadRequest,
}

// Error is a gateway failure with a taxonomy code, a caller-facing message,
// and optional structured details. The wrapped cause is available to logs
// via Unwrap but is never serialized to the client.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the HTTP status the failure maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Resumable reports whether the caller may safely retry the request.
// Only backend connectivity failures are retryable.
func (e *Error) Resumable() bool { return e.Code == CodeNetworkError }

// WithDetail attaches one structured detail field and returns the error for
// chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a failure with no underlying cause.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a failure wrapping an underlying cause.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// Network wraps a backend connectivity failure. Context deadline and
// cancellation errors land here so a timed-out dispatch reports 503 rather
// than a storage fault.
func Network(err error, format string, args ...interface{}) *Error {
	return Wrap(CodeNetworkError, err, format, args...)
}

// From normalizes any error into *Error. Already-typed failures pass
// through; context timeouts become NETWORK_ERROR; everything else is
// classified as STORAGE_ERROR so the envelope always carries a code.
func From(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(CodeNetworkError, err, "backend call timed out or was cancelled")
	}
	return Wrap(CodeStorageError, err, "internal storage error")
}
