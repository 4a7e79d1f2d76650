// Package rpcerr provides the error kinds surfaced across the Nexus RPC
// runtime. This is a leaf package with no internal dependencies, designed
// to be imported by every other package without causing circular imports.
//
// Import graph: rpcerr <- everything
package rpcerr

import (
	"fmt"
)

// Code represents the kind of error surfaced to the application.
type Code int

const (
	// CodeNone indicates success. Rarely constructed directly; most call
	// sites return a nil error instead.
	CodeNone Code = iota

	// CodeTooLarge indicates the message exceeds the configured maximum.
	CodeTooLarge

	// CodeOutOfMemory indicates the buffer pool is exhausted.
	CodeOutOfMemory

	// CodeTooManySessions indicates the per-instance session cap was reached.
	CodeTooManySessions

	// CodeInvalidRemoteRpcID indicates the peer rejected the session request.
	CodeInvalidRemoteRpcID

	// CodeSessionReset indicates the peer died or explicitly reset the
	// session; delivered to every in-flight continuation on that session.
	CodeSessionReset

	// CodeDisconnected indicates a handler attempted to send on a session
	// that is in teardown.
	CodeDisconnected

	// CodeRingExhausted indicates the transport TX queue is full; the
	// caller should retry after the next event-loop tick.
	CodeRingExhausted

	// CodeInvariantViolation marks the "fatal, abort" class of error from
	// spec.md §7: an internal invariant was violated and the engine must
	// not proceed on corrupt state. Never returned to callers: no function
	// in this module produces an error with this code, and Fatal handles
	// this class by logging and exiting without constructing one.
	CodeInvariantViolation
)

// String returns a human-readable name for the error code.
func (c Code) String() string {
	switch c {
	case CodeNone:
		return "NoError"
	case CodeTooLarge:
		return "TooLarge"
	case CodeOutOfMemory:
		return "OutOfMemory"
	case CodeTooManySessions:
		return "TooManySessions"
	case CodeInvalidRemoteRpcID:
		return "InvalidRemoteRpcId"
	case CodeSessionReset:
		return "SessionReset"
	case CodeDisconnected:
		return "Disconnected"
	case CodeRingExhausted:
		return "RingExhausted"
	case CodeInvariantViolation:
		return "InvariantViolation"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is the error type returned across the datapath and control-plane
// APIs. Session is 0 when the error is not associated with a session.
type Error struct {
	Code    Code
	Message string
	Session uint64
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Session != 0 {
		return fmt.Sprintf("%s: %s (session=%d)", e.Code, e.Message, e.Session)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewTooLargeError creates a CodeTooLarge error.
func NewTooLargeError(size, max int) *Error {
	return &Error{Code: CodeTooLarge, Message: fmt.Sprintf("message size %d exceeds maximum %d", size, max)}
}

// NewOutOfMemoryError creates a CodeOutOfMemory error.
func NewOutOfMemoryError(requested int) *Error {
	return &Error{Code: CodeOutOfMemory, Message: fmt.Sprintf("buffer pool exhausted for %d bytes", requested)}
}

// NewTooManySessionsError creates a CodeTooManySessions error.
func NewTooManySessionsError(limit int) *Error {
	return &Error{Code: CodeTooManySessions, Message: fmt.Sprintf("session cap of %d reached", limit)}
}

// NewInvalidRemoteRpcIDError creates a CodeInvalidRemoteRpcID error.
func NewInvalidRemoteRpcIDError(remoteID uint8) *Error {
	return &Error{Code: CodeInvalidRemoteRpcID, Message: fmt.Sprintf("peer rejected remote rpc id %d", remoteID)}
}

// NewSessionResetError creates a CodeSessionReset error for the given session.
func NewSessionResetError(session uint64, reason string) *Error {
	return &Error{Code: CodeSessionReset, Message: reason, Session: session}
}

// NewDisconnectedError creates a CodeDisconnected error for the given session.
func NewDisconnectedError(session uint64) *Error {
	return &Error{Code: CodeDisconnected, Message: "session is in teardown", Session: session}
}

// NewRingExhaustedError creates a CodeRingExhausted error.
func NewRingExhaustedError() *Error {
	return &Error{Code: CodeRingExhausted, Message: "transport tx queue full, retry next tick"}
}

// IsSessionResetError returns true if err is a CodeSessionReset error.
func IsSessionResetError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == CodeSessionReset
	}
	return false
}

// IsRingExhaustedError returns true if err is a CodeRingExhausted error.
func IsRingExhaustedError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == CodeRingExhausted
	}
	return false
}

// IsDisconnectedError returns true if err is a CodeDisconnected error.
func IsDisconnectedError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == CodeDisconnected
	}
	return false
}
