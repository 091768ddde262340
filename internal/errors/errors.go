// Package errors defines the error types modserve reports to clients and
// to the terminal.
//
// AppError is the structured application error: a stable numeric code, a
// message and an optional detail string, decoupled from the HTTP status it
// is sent with, so the same code maps consistently across transports.
// CompileError carries compiler diagnostics for a component source file.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Well-known application error codes.
const (
	CodeNotFound      = 10404
	CodeCompileFailed = 10500
	CodeInternal      = 10501
	CodeBadRequest    = 10400
	CodeRateLimited   = 10429
)

// ErrNotFound marks a path that could not be resolved or stat'ed. Stages
// treat it as a reason to decline, never as a client-visible failure.
var ErrNotFound = errors.New("not found")

// AppError is a structured application failure.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

// New creates an AppError. A zero status defaults to 500.
func New(message string, code, status int, detail string) *AppError {
	if status == 0 {
		status = http.StatusInternalServerError
	}

	return &AppError{
		Code:    code,
		Message: message,
		Detail:  detail,
		Status:  status,
	}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%d] %s", e.Code, e.Message)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}

	return msg
}

// Unwrap returns the underlying cause error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError with the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}

	return false
}

// WithCause attaches the underlying error.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause

	return e
}

// NotFound reports a file that could not be served.
func NotFound(file string) *AppError {
	return New("file not found", CodeNotFound, http.StatusNotFound, "failed to stat file: "+file)
}

// CompileFailed wraps a component compilation failure.
func CompileFailed(file string, cause error) *AppError {
	detail := file
	if cause != nil {
		detail = cause.Error()
	}

	return New("failed to compile component", CodeCompileFailed, http.StatusInternalServerError, detail).
		WithCause(cause)
}

// Internal wraps an unexpected failure.
func Internal(cause error) *AppError {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}

	return New("internal server error", CodeInternal, http.StatusInternalServerError, detail).
		WithCause(cause)
}

// AsAppError converts any error into an AppError. Errors that already are
// (or wrap) an AppError are returned unchanged; ErrNotFound maps to a 404;
// everything else becomes an internal error.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}

	var ce *CompileError
	if errors.As(err, &ce) {
		return CompileFailed(ce.File, err)
	}

	if errors.Is(err, ErrNotFound) {
		return New("file not found", CodeNotFound, http.StatusNotFound, err.Error()).WithCause(err)
	}

	return Internal(err)
}

// Is, As and Unwrap re-export the standard library helpers so callers
// importing this package need not alias one of the two.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
