// Package errors defines the service error type shared by the ledger and its
// HTTP surface. Every rejected call surfaces one of these with a stable code
// and a human-readable message.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the kind of failure.
type ErrorCode string

const (
	// Ledger error kinds
	CodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	CodeInvalidAddress        ErrorCode = "INVALID_ADDRESS"
	CodeInvalidAmount         ErrorCode = "INVALID_AMOUNT"
	CodeInvalidParameter      ErrorCode = "INVALID_PARAMETER"
	CodeSystemPaused          ErrorCode = "SYSTEM_PAUSED"
	CodeInsufficientBalance   ErrorCode = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance ErrorCode = "INSUFFICIENT_ALLOWANCE"
	CodeInvalidConfiguration  ErrorCode = "INVALID_CONFIGURATION"

	// Transport error kinds
	CodeUnauthenticated   ErrorCode = "UNAUTHENTICATED"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeInvalidFormat     ErrorCode = "INVALID_FORMAT"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is a typed error carrying an HTTP status and optional details.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ServiceError with the same code, so that
// errors.Is(err, errors.ErrSystemPaused) matches any paused rejection.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized          = newError(CodeUnauthorized, http.StatusForbidden, "caller is not authorized", nil)
	ErrInvalidAddress        = newError(CodeInvalidAddress, http.StatusBadRequest, "invalid address", nil)
	ErrInvalidAmount         = newError(CodeInvalidAmount, http.StatusBadRequest, "invalid amount", nil)
	ErrInvalidParameter      = newError(CodeInvalidParameter, http.StatusBadRequest, "invalid parameter", nil)
	ErrSystemPaused          = newError(CodeSystemPaused, http.StatusConflict, "system is paused", nil)
	ErrInsufficientBalance   = newError(CodeInsufficientBalance, http.StatusUnprocessableEntity, "insufficient balance", nil)
	ErrInsufficientAllowance = newError(CodeInsufficientAllowance, http.StatusUnprocessableEntity, "insufficient allowance", nil)
	ErrInvalidConfiguration  = newError(CodeInvalidConfiguration, http.StatusConflict, "invalid configuration", nil)
)

// Unauthorized rejects a caller that lacks the required role.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusForbidden, message, nil)
}

// InvalidAddress rejects a null or malformed account.
func InvalidAddress(field string) *ServiceError {
	return newError(CodeInvalidAddress, http.StatusBadRequest, fmt.Sprintf("%s must be a non-null address", field), nil).
		WithDetails("field", field)
}

// InvalidAmount rejects a zero or malformed amount.
func InvalidAmount(message string) *ServiceError {
	return newError(CodeInvalidAmount, http.StatusBadRequest, message, nil)
}

// InvalidParameter rejects an out-of-range parameter.
func InvalidParameter(message string) *ServiceError {
	return newError(CodeInvalidParameter, http.StatusBadRequest, message, nil)
}

// SystemPaused rejects a transfer-family call while the pause switch is on.
func SystemPaused() *ServiceError {
	return newError(CodeSystemPaused, http.StatusConflict, "transfers are paused", nil)
}

// InsufficientBalance rejects a debit larger than the account balance.
func InsufficientBalance(available, required string) *ServiceError {
	return newError(CodeInsufficientBalance, http.StatusUnprocessableEntity,
		fmt.Sprintf("insufficient balance: available %s, required %s", available, required), nil).
		WithDetails("available", available).
		WithDetails("required", required)
}

// InsufficientAllowance rejects a spend larger than the approved allowance.
func InsufficientAllowance(available, required string) *ServiceError {
	return newError(CodeInsufficientAllowance, http.StatusUnprocessableEntity,
		fmt.Sprintf("insufficient allowance: available %s, required %s", available, required), nil).
		WithDetails("available", available).
		WithDetails("required", required)
}

// InvalidConfiguration rejects a call that would act on incomplete settings.
func InvalidConfiguration(message string) *ServiceError {
	return newError(CodeInvalidConfiguration, http.StatusConflict, message, nil)
}

// Unauthenticated rejects a request without credentials.
func Unauthenticated(message string) *ServiceError {
	return newError(CodeUnauthenticated, http.StatusUnauthorized, message, nil)
}

// InvalidToken rejects a request with a bad bearer token.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

// InvalidFormat rejects a malformed request body or parameter.
func InvalidFormat(field string, err error) *ServiceError {
	return newError(CodeInvalidFormat, http.StatusBadRequest, fmt.Sprintf("invalid %s", field), err).
		WithDetails("field", field)
}

// NotFound reports a missing route or resource.
func NotFound(resource string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// RateLimitExceeded rejects a caller over its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests,
		fmt.Sprintf("rate limit exceeded: %d requests per %s", limit, window), nil)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// CodeOf returns the code of a ServiceError, or CodeInternal for anything else.
func CodeOf(err error) ErrorCode {
	if se := GetServiceError(err); se != nil {
		return se.Code
	}
	return CodeInternal
}
