// Package domainerrors carries coded errors across service boundaries.
//
// Services return *Error values (or wrap infrastructure errors with Wrap) so
// transports can translate them into status codes without string matching.
// The ledger-specific codes map one-to-one onto the failure taxonomy of the
// integrity ledger:
//   - CodeEncoding: payload rejected before sealing, caller fixes input
//   - CodeConflict: lost race on a chain tip, retried by the sealer
//   - CodeIncompleteVoid: void approved without a rectifying record
//   - CodeChainBreak: verifier finding, never retried or repaired
//   - CodeChainSuspect: scope flagged after a break, appends refused
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of a domain error.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvalidState       Code = "invalid_state"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	CodeEncoding       Code = "encoding_error"
	CodeIncompleteVoid Code = "incomplete_void"
	CodeChainBreak     Code = "chain_break_detected"
	CodeChainSuspect   Code = "chain_suspect"
)

// Error is a coded error with an optional wrapped cause.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost *Error in the chain, if any.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Is reports whether the outermost coded error in err's chain has the given code.
func Is(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// HasCode reports whether any coded error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}
