package wire

import (
	"errors"
	"fmt"
)

// Code is a stable error code surfaced in error responses. Clients
// branch on the code, never on the message text.
type Code string

const (
	CodeInvalidRequest  Code = "invalid_request"
	CodeUnauthenticated Code = "unauthenticated"
	CodeStopped         Code = "stopped"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeForbidden       Code = "forbidden"
	CodeStaleEpoch      Code = "stale_epoch"
	CodePrecondition    Code = "precondition"
	CodeInvalidPath     Code = "invalid_path"
	CodeInternal        Code = "internal"
)

// Error is a protocol error carrying a stable code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf creates a protocol error with the given code.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code from an error. Errors that are not
// protocol errors map to CodeInternal.
func CodeOf(err error) Code {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return CodeInternal
}

// Retriable reports whether a client may retry the failed request
// unchanged and expect it to eventually succeed.
func Retriable(code Code) bool {
	switch code {
	case CodeConflict, CodeStopped, CodeStaleEpoch:
		return true
	}
	return false
}
