package directory

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable failure category.
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeUnauthorized   Code = "unauthorized"
	CodeQuotaExhausted Code = "quota_exhausted"
	CodeConflict       Code = "conflict"
	CodeInvalid        Code = "invalid"
	CodeUnavailable    Code = "unavailable"
	CodeInternal       Code = "internal"
)

// Codes lists every code in a stable order.
var Codes = []Code{
	CodeNotFound,
	CodeUnauthorized,
	CodeQuotaExhausted,
	CodeConflict,
	CodeInvalid,
	CodeUnavailable,
	CodeInternal,
}

// Valid reports whether c is one of Codes.
func (c Code) Valid() bool {
	for _, known := range Codes {
		if c == known {
			return true
		}
	}
	return false
}

// Error is a failure reported by a Client. Message is the service's own
// text and is for humans only.
type Error struct {
	Code    Code
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return fmt.Sprintf("directory: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("directory: %s: %s (%s)", e.Op, e.Message, e.Code)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or "" when
// there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err is, or wraps, an *Error with code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the service message carried by err, falling back to
// err.Error() for unstructured failures.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
