package domainerrors

import "errors"

// Code is a transport-agnostic error category.
type Code string

const (
	CodeValidation   Code = "validation_failed"
	CodeBadRequest   Code = "bad_request"
	CodeConflict     Code = "conflict"
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal_error"

	// CodeAdminUnauthenticated means the identity provider rejected the
	// administrator credentials. Operators must fix configuration; retrying
	// does not help.
	CodeAdminUnauthenticated Code = "admin_unauthenticated"
)

// Error wraps a failure with a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so errors.Is(err, New(CodeConflict, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches code and message to err. An existing domain code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the domain code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Retryable reports whether a caller may reasonably retry with backoff.
func Retryable(err error) bool {
	return HasCode(err, CodeUnavailable)
}
