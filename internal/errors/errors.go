// Package errors provides a structured error type used throughout the escrow
// orchestrator so that callers can branch on error kind, map errors to HTTP
// status codes, and emit consistent structured log fields without leaking
// internal details to external callers.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError into one of the kinds from the error
// taxonomy: validation, not-found, state-machine rejections, and the
// recoverable external-dependency kinds.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"

	// Domain-specific kinds added for the escrow orchestrator's external
	// dependencies; they share the same AppError machinery and status
	// mapping rather than inventing a parallel error type.
	ErrorTypeCustody       ErrorType = "custody"
	ErrorTypeAuditSink     ErrorType = "audit_sink"
	ErrorTypeNotification  ErrorType = "notification"
	ErrorTypeCircuitOpen   ErrorType = "circuit_open"
	ErrorTypeArithmetic    ErrorType = "arithmetic"
)

var statusCodeByType = map[ErrorType]int{
	ErrorTypeValidation:   http.StatusBadRequest,
	ErrorTypeAuth:         http.StatusUnauthorized,
	ErrorTypeNotFound:     http.StatusNotFound,
	ErrorTypeConflict:     http.StatusConflict,
	ErrorTypeTimeout:      http.StatusRequestTimeout,
	ErrorTypeRateLimit:    http.StatusTooManyRequests,
	ErrorTypeDatabase:     http.StatusInternalServerError,
	ErrorTypeNetwork:      http.StatusInternalServerError,
	ErrorTypeInternal:     http.StatusInternalServerError,
	ErrorTypeCustody:      http.StatusBadGateway,
	ErrorTypeAuditSink:    http.StatusBadGateway,
	ErrorTypeNotification: http.StatusBadGateway,
	ErrorTypeCircuitOpen:  http.StatusServiceUnavailable,
	ErrorTypeArithmetic:   http.StatusUnprocessableEntity,
}

// AppError is the structured error carried across package boundaries.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
		Cause:      cause,
	}
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusCodeByType[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == t
}

// GetType returns the error's type, or ErrorTypeInternal for plain errors.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status associated with err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// errorMessages holds the safe, externally-visible messages for error types
// whose internal Message must never reach a caller.
type errorMessages struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification  string
}

var ErrorMessages = errorMessages{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns a message safe to return to an external caller.
// Validation errors pass their message through since they describe caller
// input; everything else is mapped to a generic, type-specific message.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}

	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields returns structured fields suitable for a zap/logr sugared call.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}

	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins a set of errors (ignoring nils) into one error whose message
// concatenates each with " -> ". Returns nil if every argument is nil, and
// the single error unchanged if exactly one is non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}

	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}

	msg := nonNil[0].Error()
	for _, err := range nonNil[1:] {
		msg += " -> " + err.Error()
	}
	return fmt.Errorf("%s", msg)
}

// Predefined constructors for the most common error kinds.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

func NewCustodyError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeCustody, "custody operation failed: %s", operation)
}

func NewAuditSinkError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeAuditSink, "audit sink operation failed: %s", operation)
}

func NewCircuitOpenError(dependency string) *AppError {
	return New(ErrorTypeCircuitOpen, fmt.Sprintf("circuit open for dependency: %s", dependency))
}

func NewArithmeticError(message string) *AppError {
	return New(ErrorTypeArithmetic, message)
}
