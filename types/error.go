package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Admission error codes
const (
	ErrChannelNotInitialized ErrorCode = "CHANNEL_NOT_INITIALIZED"
	ErrProcessorStopped      ErrorCode = "PROCESSOR_STOPPED"
	ErrQueueFull             ErrorCode = "QUEUE_FULL"
	ErrRateLimited           ErrorCode = "RATE_LIMITED"
	ErrInvalidConfig         ErrorCode = "INVALID_CONFIG"
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"
)

// Execution error codes
const (
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrDownstreamExecution ErrorCode = "DOWNSTREAM_EXECUTION"
	ErrCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
)

// Terminal error codes
const (
	ErrRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"
	ErrProcessorDisposed ErrorCode = "PROCESSOR_DISPOSED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, types.NewError(types.ErrTimeout, "")) matches on kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Transient()}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithChannel sets the channel name.
func (e *Error) WithChannel(channel string) *Error {
	e.Channel = channel
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Transient reports whether errors of this kind are retried by the processor.
func (c ErrorCode) Transient() bool {
	switch c {
	case ErrTimeout, ErrDownstreamExecution, ErrCircuitOpen:
		return true
	default:
		return false
	}
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
