// Package errors provides structured error handling for the EventSub
// client: auth, transport, protocol, and application failures carry their
// category so callers can decide between recovery and teardown.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// TypeAuth indicates missing, expired, or revoked credentials.
	// Recoverable by refresh or re-auth; fatal only after both fail.
	TypeAuth ErrorType = "auth"
	// TypeTransport indicates a connect failure or abnormal socket close.
	TypeTransport ErrorType = "transport"
	// TypeProtocol indicates a contract mismatch with the server
	// (missing session id, unrecognized subscription type). Not locally
	// repairable.
	TypeProtocol ErrorType = "protocol"
	// TypeApplication indicates a rejected request for reasons other than
	// auth (e.g. malformed subscription condition). Logged, not retried.
	TypeApplication ErrorType = "application"
	// TypeRateLimit indicates a client-side cooldown or server rate limit.
	TypeRateLimit ErrorType = "rate_limit"
)

// Error represents a structured error with type, message, and cause.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// AuthError creates a new auth error.
func AuthError(message string, cause error) *Error {
	return &Error{Type: TypeAuth, Message: message, Cause: cause}
}

// TransportError creates a new transport error.
func TransportError(message string, cause error) *Error {
	return &Error{Type: TypeTransport, Message: message, Cause: cause}
}

// ProtocolError creates a new protocol error.
func ProtocolError(message string) *Error {
	return &Error{Type: TypeProtocol, Message: message}
}

// ApplicationError creates a new application error.
func ApplicationError(message string, cause error) *Error {
	return &Error{Type: TypeApplication, Message: message, Cause: cause}
}

// RateLimitError creates a new rate-limit error.
func RateLimitError(message string) *Error {
	return &Error{Type: TypeRateLimit, Message: message}
}

// IsType reports whether err (or anything it wraps) is a structured error
// of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}
