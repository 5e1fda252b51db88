// Package apperrors provides machine-readable error codes for the engine's
// failure taxonomy.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// Generator errors
	CodeGeneratorTransient Code = "GENERATOR_TRANSIENT"
	CodeGeneratorPermanent Code = "GENERATOR_PERMANENT"
	CodeGeneratorExhausted Code = "GENERATOR_EXHAUSTED"
	CodeMalformedResponse  Code = "MALFORMED_RESPONSE"

	// Turn errors
	CodeTurnInProgress Code = "TURN_IN_PROGRESS"
	CodeStaleResult    Code = "STALE_RESULT"

	// State errors
	CodeStateInvariant Code = "STATE_INVARIANT"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// Retryable reports whether the caller may resubmit the same input.
func (c Code) Retryable() bool {
	switch c {
	case CodeGeneratorTransient, CodeGeneratorExhausted, CodeMalformedResponse, CodeTurnInProgress:
		return true
	}
	return false
}

// Error pairs a code with an underlying cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error with a static message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Err: errors.New(msg)}
}

// Wrap attaches a code to an existing error. It returns nil for a nil cause.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}
