package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. The prefix determines the error class used by the
// dispatcher to decide whether a task is retried.
const (
	// Configuration: never retried, the operator must fix the task or the environment.
	ErrCodeConfigMissingSecret     ErrorCode = "config_missing_secret"
	ErrCodeConfigUnsupportedSource ErrorCode = "config_unsupported_source"
	ErrCodeConfigInvalidTask       ErrorCode = "config_invalid_task"
	ErrCodeConfigInvalidDateRange  ErrorCode = "config_invalid_date_range"

	// Auth: never retried, the stored credentials need attention.
	ErrCodeAuthTokenInvalid       ErrorCode = "auth_token_invalid"
	ErrCodeAuthRefreshFailed      ErrorCode = "auth_refresh_failed"
	ErrCodeAuthCredentialsMissing ErrorCode = "auth_credentials_missing"
	ErrCodeAuthPersistFailed      ErrorCode = "auth_persist_failed"
	ErrCodeAuthReauthRequired     ErrorCode = "auth_reauth_required"

	// Data absent: swallowed by the worker pool.
	ErrCodeNotFoundResource ErrorCode = "not_found_resource"

	// Internal/Upstream: transient, retried by the dispatcher.
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamCollector   ErrorCode = "upstream_collector_unavailable"
	ErrCodeTaskTimeout         ErrorCode = "upstream_task_timeout"
)

// ErrorClass groups error codes by how the dispatcher treats them.
type ErrorClass string

const (
	ClassConfiguration ErrorClass = "configuration"
	ClassAuth          ErrorClass = "auth"
	ClassDataAbsent    ErrorClass = "data_absent"
	ClassTransient     ErrorClass = "transient"
)

// Class maps an ErrorCode to its ErrorClass.
// Unrecognized codes are treated as transient.
func (c ErrorCode) Class() ErrorClass {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "config_"):
		return ClassConfiguration
	case strings.HasPrefix(s, "auth_"):
		return ClassAuth
	case strings.HasPrefix(s, "not_found_"):
		return ClassDataAbsent
	default:
		return ClassTransient
	}
}

// AppError is the standard application error type used throughout the service.
// Domain errors are expressed as AppError so the dispatcher can classify them
// and logs carry a stable code.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// ClassOf returns the class of the first AppError in the chain.
// Errors that carry no AppError are transient.
func ClassOf(err error) ErrorClass {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code.Class()
	}
	return ClassTransient
}

// IsRetryable reports whether the dispatcher may retry a task that failed with err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassOf(err) == ClassTransient
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}
