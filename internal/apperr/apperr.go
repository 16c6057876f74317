// Package apperr provides the error taxonomy shared by the billing engine.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeExpired         Code = "EXPIRED"
	CodeNotRequired     Code = "NOT_REQUIRED"
	CodeCodeExpired     Code = "CODE_EXPIRED"
	CodeInvalidCode     Code = "INVALID_CODE"
	CodeExternalGateway Code = "EXTERNAL_GATEWAY_ERROR"
)

// Error is a domain error carrying a Code and a user-facing message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation   = &Error{Code: CodeValidation}
	ErrForbidden    = &Error{Code: CodeForbidden}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrConflict     = &Error{Code: CodeConflict}
	ErrInvalidState = &Error{Code: CodeInvalidState}
	ErrExpired      = &Error{Code: CodeExpired}
	ErrNotRequired  = &Error{Code: CodeNotRequired}
	ErrCodeExpired  = &Error{Code: CodeCodeExpired}
	ErrInvalidCode  = &Error{Code: CodeInvalidCode}
)

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps cause.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

func Validation(format string, args ...any) *Error { return New(CodeValidation, format, args...) }
func Forbidden(format string, args ...any) *Error  { return New(CodeForbidden, format, args...) }
func NotFound(format string, args ...any) *Error   { return New(CodeNotFound, format, args...) }
func Conflict(format string, args ...any) *Error   { return New(CodeConflict, format, args...) }
func InvalidState(format string, args ...any) *Error {
	return New(CodeInvalidState, format, args...)
}

// CodeOf returns the Code of err, or "" when err is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf returns the user-facing message of a domain error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
