// Package errors classifies failures of the stage tracking engine so handlers
// can decide between replying to the actor, retrying on the next tick, or
// evicting a session.
package errors

import stderrors "errors"

// Code is a machine-readable error class.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound means the target member or artifact is no longer resolvable.
	CodeNotFound Code = "NOT_FOUND"
	// CodePermissionDenied means the actor lacks the capability for the action.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeConflict means the requested state already holds.
	CodeConflict Code = "CONFLICT"
	// CodeInvalidInput means actor-supplied input was rejected before any mutation.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeTransient means an external call failed for a retriable reason.
	CodeTransient Code = "TRANSIENT"
	// CodeArtifactLost means the rendered artifact vanished and its session is unrecoverable.
	CodeArtifactLost Code = "ARTIFACT_LOST"
)

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return stderrors.Is(err, &Error{Code: code})
}
