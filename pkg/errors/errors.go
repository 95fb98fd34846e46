package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrInvalidMessage indicates that a merge request could not be decoded
	ErrInvalidMessage = errors.New("invalid message")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrPublishFailed indicates that a result could not be published
	ErrPublishFailed = errors.New("publish failed")

	// ErrConsumerNotFound indicates that a consumer was not found
	ErrConsumerNotFound = errors.New("consumer not found")
)

// Error codes carried on the wire in MergeResult.Error.
const (
	CodeUnknown    = "UNKNOWN_ERROR"
	CodeTimeout    = "TIMEOUT_ERROR"
	CodeNetwork    = "NETWORK_ERROR"
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
	CodeCanceled   = "CANCELED_ERROR"
)

// Error represents a structured SDK error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new SDK error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError reports input that will never succeed on retry.
func NewValidationError(message string, err error) *Error {
	return NewError(CodeValidation, message, err)
}

// NewNotFoundError reports a missing resource, e.g. an offloaded result blob.
func NewNotFoundError(message string, err error) *Error {
	return NewError(CodeNotFound, message, err)
}

// NewInternalError reports a failure on our side.
func NewInternalError(message string, err error) *Error {
	return NewError(CodeInternal, message, err)
}

// Code maps an error to its wire code. Coded errors keep their code; bare
// errors are classified by cause.
func Code(err error) string {
	if err == nil {
		return ""
	}

	var coded *Error
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, ErrInvalidMessage):
		return CodeValidation
	case errors.Is(err, ErrConsumerNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrPublishFailed):
		return CodeNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}
	return CodeUnknown
}

// IsRetryable determines if an error is transient and the message should be
// redelivered.
func IsRetryable(err error) bool {
	switch Code(err) {
	case CodeTimeout, CodeNetwork, CodeInternal:
		return true
	default:
		return false
	}
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
