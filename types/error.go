package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the council.
type ErrorCode string

// Validation error codes
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrInvalidThreshold ErrorCode = "INVALID_THRESHOLD"
	ErrEmptyOptions     ErrorCode = "EMPTY_OPTIONS"
)

// Coordination error codes
const (
	ErrNoEligibleVoters   ErrorCode = "NO_ELIGIBLE_VOTERS"
	ErrUnknownTarget      ErrorCode = "UNKNOWN_TARGET"
	ErrUnknownProposal    ErrorCode = "UNKNOWN_PROPOSAL"
	ErrProposalClosed     ErrorCode = "PROPOSAL_CLOSED"
	ErrCapabilityMismatch ErrorCode = "CAPABILITY_MISMATCH"
	ErrEngineHalted       ErrorCode = "ENGINE_HALTED"
)

// Agent error codes
const (
	ErrAgentNotConnected ErrorCode = "AGENT_NOT_CONNECTED"
	ErrAgentRunning      ErrorCode = "AGENT_RUNNING"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrTaskFinalized     ErrorCode = "TASK_FINALIZED"
)

// Infrastructure error codes
const (
	ErrHubStopped         ErrorCode = "HUB_STOPPED"
	ErrStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// Is matches another *Error by code so that errors.Is works against the
// package-level sentinels regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewValidationError 创建校验错误（在任何状态变更之前返回）
func NewValidationError(code ErrorCode, message string) *Error {
	return NewError(code, message).WithHTTPStatus(http.StatusBadRequest)
}

