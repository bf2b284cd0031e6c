package core

import (
	"errors"
	"fmt"
)

// Error is the shared error taxonomy for session orchestration. Every
// failure that crosses a package boundary is one of these, so the
// orchestrator, bridge, and tests can branch on Type instead of string
// matching.
type Error struct {
	Type     ErrorType `json:"type"`
	Message  string    `json:"message"`
	Param    string    `json:"param,omitempty"`
	Code     string    `json:"code,omitempty"`
	Upstream string    `json:"upstream,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrTransientUpstream marks failures worth retrying: timeouts, 5xx,
	// and rate limits from the planner, validator, or practice system.
	ErrTransientUpstream ErrorType = "transient_upstream_error"
	// ErrInvalidArguments marks a call whose arguments fail schema checks.
	// It is reported back to the planner, never retried.
	ErrInvalidArguments ErrorType = "invalid_arguments_error"
	// ErrUnknownOperation marks a call naming no registered operation.
	ErrUnknownOperation ErrorType = "unknown_operation_error"
	// ErrValidationBlocked marks a mutating call stopped by a critical
	// validation verdict.
	ErrValidationBlocked ErrorType = "validation_blocked_error"
	// ErrIterationCap marks a turn that hit the round-trip ceiling.
	ErrIterationCap ErrorType = "iteration_cap_error"
	// ErrInvalidRequest marks a malformed client frame or bad handshake.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	// ErrAPI marks a non-retryable upstream rejection.
	ErrAPI ErrorType = "api_error"
)

// NewTransientUpstreamError wraps a retryable upstream failure. upstream
// names the collaborator ("planner", "validator", "pms").
func NewTransientUpstreamError(upstream string, cause error) *Error {
	return &Error{
		Type:     ErrTransientUpstream,
		Message:  fmt.Sprintf("%s unavailable: %v", upstream, cause),
		Upstream: upstream,
		cause:    cause,
	}
}

// NewInvalidArgumentsError creates a schema violation error for one call.
func NewInvalidArgumentsError(operation, param, message string) *Error {
	return &Error{
		Type:    ErrInvalidArguments,
		Message: message,
		Param:   param,
		Code:    operation,
	}
}

// NewUnknownOperationError creates an error for an unregistered operation name.
func NewUnknownOperationError(name string) *Error {
	return &Error{
		Type:    ErrUnknownOperation,
		Message: fmt.Sprintf("unknown operation %q", name),
		Code:    name,
	}
}

// NewValidationBlockedError creates an error for a call stopped by review.
func NewValidationBlockedError(operation, reasoning string) *Error {
	return &Error{
		Type:    ErrValidationBlocked,
		Message: fmt.Sprintf("operation %s blocked: %s", operation, reasoning),
		Code:    operation,
	}
}

// NewIterationCapError creates an error for a turn exceeding its round-trip cap.
func NewIterationCapError(cap int) *Error {
	return &Error{
		Type:    ErrIterationCap,
		Message: fmt.Sprintf("turn exceeded %d planner round trips", cap),
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAPIError creates a non-retryable upstream error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsRetryable returns true if the error is worth another attempt.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrTransientUpstream
}

// AsError extracts a taxonomy error from an error chain, or wraps the
// input as a generic API error so callers always get a typed value.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Type: ErrAPI, Message: err.Error(), cause: err}
}
