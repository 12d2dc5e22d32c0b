// Package apperrors provides the structured error taxonomy for the
// arbitration core. Every guard failure surfaces as an *Error carrying a
// stable machine-checkable code plus context; collaborator failures are
// logged by callers and never wrapped into one of these.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unexpected internal error.
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound: challenge/rule/participant/judge-candidate does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeUnauthorized: the actor is not the required role for the operation.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeInvalidState: the operation is not permitted from the current
	// challenge status.
	CodeInvalidState Code = "INVALID_STATE"

	// CodeInvalidParticipant: a referenced winner/judge is not a valid,
	// eligible participant (e.g. the judge is also a player).
	CodeInvalidParticipant Code = "INVALID_PARTICIPANT"

	// CodeEvaluationIncomplete: winner determination attempted before every
	// compliance cell holds a verdict. Details carries the pending-cell list.
	CodeEvaluationIncomplete Code = "EVALUATION_INCOMPLETE"

	// CodeConflictingState: a concurrent transition won the race. Retryable.
	CodeConflictingState Code = "CONFLICTING_STATE"

	// CodeInvalidArgument: malformed or missing input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// Error is a structured domain error.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	// Details carries an operation-specific payload for the caller, e.g. the
	// pending-cell list on CodeEvaluationIncomplete.
	Details any
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

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error wrapping an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithMeta attaches a metadata key/value pair and returns the error.
func (e *Error) WithMeta(key, value string) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// WithDetails attaches a structured payload and returns the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// GetCode extracts the code from any error, CodeUnknown if it is not a
// domain error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks whether the error carries the given code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// AsError unwraps err into target if it is a domain error.
func AsError(err error, target **Error) bool {
	return errors.As(err, target)
}

// HTTPStatus maps domain codes to HTTP status codes for the transport layer.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeUnauthorized:
		return fiber.StatusForbidden
	case CodeInvalidArgument, CodeInvalidParticipant:
		return fiber.StatusBadRequest
	case CodeInvalidState, CodeEvaluationIncomplete, CodeConflictingState:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
