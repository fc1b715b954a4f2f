package state

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode categorizes failures surfaced by the mutation engine and the
// replication channel.
type ErrorCode string

const (
	// CodeNotFound: a referenced scene, layer, element or frame does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeValidation: a malformed payload or draft, rejected before mutation.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeTimeout: no correlated reply arrived in time.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeConnection: the transport is down.
	CodeConnection ErrorCode = "CONNECTION"
)

// Error carries a code, the failing operation and a human-readable message.
// A failed operation never leaves a partial mutation behind.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing entity of the given kind.
func NotFound(op, kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Op:      op,
		Message: fmt.Sprintf("%s %s not found", kind, id),
	}
}

// Invalid reports a validation failure.
func Invalid(op, format string, args ...any) *Error {
	return &Error{
		Code:    CodeValidation,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Timeout reports a request that got no reply within d.
func Timeout(op string, d time.Duration) *Error {
	return &Error{
		Code:    CodeTimeout,
		Op:      op,
		Message: fmt.Sprintf("no reply within %s", d),
	}
}

// Disconnected wraps a transport failure.
func Disconnected(op string, err error) *Error {
	msg := "not connected"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: CodeConnection, Op: op, Message: msg, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func IsNotFound(err error) bool   { return hasCode(err, CodeNotFound) }
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }
func IsTimeout(err error) bool    { return hasCode(err, CodeTimeout) }

// IsConnection reports whether err is a transport failure.
func IsConnection(err error) bool { return hasCode(err, CodeConnection) }
