// Package mcperrors provides structured errors shared by the query engine, the
// HTTP adapter and the tool layer.
package mcperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory classifies the type of error
type ErrorCategory string

const (
	// ClientError indicates the error was caused by the caller
	ClientError ErrorCategory = "CLIENT_ERROR"
	// ServerError indicates the error was raised inside this server
	ServerError ErrorCategory = "SERVER_ERROR"
	// ExternalError indicates the error was caused by the query service
	ExternalError ErrorCategory = "EXTERNAL_ERROR"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Client errors
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeMissingParameter  ErrorCode = "MISSING_PARAMETER"
	CodeInvalidQuery      ErrorCode = "INVALID_QUERY_SYNTAX"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeBudgetExceeded    ErrorCode = "BUDGET_EXCEEDED"

	// Server errors
	CodeInternalError    ErrorCode = "INTERNAL_ERROR"
	CodeExecutionAborted ErrorCode = "EXECUTION_ABORTED"
	CodeExecutionTimeout ErrorCode = "EXECUTION_TIMEOUT"

	// External errors
	CodeServiceError ErrorCode = "SERVICE_ERROR"
	CodeAuthFailed   ErrorCode = "AUTH_FAILED"
	CodeNetworkError ErrorCode = "NETWORK_ERROR"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrBudgetExceeded   = &StructuredError{Code: CodeBudgetExceeded}
	ErrRateLimited      = &StructuredError{Code: CodeRateLimitExceeded}
	ErrService          = &StructuredError{Code: CodeServiceError}
	ErrExecutionAborted = &StructuredError{Code: CodeExecutionAborted}
	ErrExecutionTimeout = &StructuredError{Code: CodeExecutionTimeout}
)

// StructuredError represents a detailed error with category, code, and recovery suggestion
type StructuredError struct {
	Code       ErrorCode     `json:"code"`
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
	Details    interface{}   `json:"details,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	Cause      error         `json:"-"`
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StructuredError with the same code.
func (e *StructuredError) Is(target error) bool {
	t, ok := target.(*StructuredError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ToJSON converts the error to JSON string
func (e *StructuredError) ToJSON() string {
	bytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":"%s","category":"%s","message":"%s"}`, e.Code, e.Category, e.Message)
	}
	return string(bytes)
}

// New creates a new structured error
func New(code ErrorCode, category ErrorCategory, message string) *StructuredError {
	return &StructuredError{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

// WithDetails adds details to the error
func (e *StructuredError) WithDetails(details interface{}) *StructuredError {
	e.Details = details
	return e
}

// WithSuggestion adds a recovery suggestion to the error
func (e *StructuredError) WithSuggestion(suggestion string) *StructuredError {
	e.Suggestion = suggestion
	return e
}

// WithCause attaches the underlying error
func (e *StructuredError) WithCause(cause error) *StructuredError {
	e.Cause = cause
	return e
}

// As extracts a StructuredError from an error chain.
func As(err error) (*StructuredError, bool) {
	var se *StructuredError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Common error constructors

// NewInvalidInput creates an invalid input error
func NewInvalidInput(message string) *StructuredError {
	return New(CodeInvalidInput, ClientError, message).
		WithSuggestion("Check the input parameters and try again")
}

// NewMissingParameter creates a missing parameter error
func NewMissingParameter(param string) *StructuredError {
	return New(CodeMissingParameter, ClientError, fmt.Sprintf("Required parameter '%s' is missing", param)).
		WithSuggestion(fmt.Sprintf("Provide the '%s' parameter", param))
}

// NewInvalidQuery creates an invalid query syntax error
func NewInvalidQuery(message string) *StructuredError {
	return New(CodeInvalidQuery, ClientError, message).
		WithSuggestion("Run verify_dql to see what is wrong with the statement")
}

// NewUnauthorized creates an unauthorized error
func NewUnauthorized() *StructuredError {
	return New(CodeUnauthorized, ClientError, "Authentication required or credentials invalid").
		WithSuggestion("Check the platform token or OAuth client credentials")
}

// NewRateLimitExceeded creates a rate limit exceeded error
func NewRateLimitExceeded(maxCalls int, windowSeconds int) *StructuredError {
	return New(CodeRateLimitExceeded, ClientError,
		fmt.Sprintf("Maximum %d tool calls per %d seconds", maxCalls, windowSeconds)).
		WithSuggestion("Wait a moment and try again")
}

// NewBudgetExceeded creates an error for a query blocked by its bytes-scanned budget.
func NewBudgetExceeded(consumedBytes, limitBytes int64) *StructuredError {
	return New(CodeBudgetExceeded, ClientError,
		fmt.Sprintf("Query budget exceeded: %d bytes scanned of %d allowed", consumedBytes, limitBytes)).
		WithDetails(map[string]interface{}{
			"consumed_bytes": consumedBytes,
			"limit_bytes":    limitBytes,
		}).
		WithSuggestion("Narrow the timeframe or reset the query budget before running more queries")
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *StructuredError {
	return New(CodeInternalError, ServerError, message).
		WithSuggestion("Try again later or contact support if the issue persists")
}

// NewExecutionAborted creates an error for a query the service aborted while it ran.
func NewExecutionAborted(queryToken string) *StructuredError {
	return New(CodeExecutionAborted, ServerError, "Query execution was aborted by the service").
		WithDetails(map[string]interface{}{"request_token": queryToken}).
		WithSuggestion("Simplify the query or reduce the scanned timeframe and try again")
}

// NewExecutionTimeout creates an error for a query that did not finish in time.
func NewExecutionTimeout(queryToken string, cause error) *StructuredError {
	return New(CodeExecutionTimeout, ServerError, "Query did not finish in time").
		WithDetails(map[string]interface{}{"request_token": queryToken}).
		WithSuggestion("Narrow the timeframe or raise GRAIL_QUERY_TIMEOUT").
		WithCause(cause)
}

// NewServiceError creates an error for a failed call to the query service.
// statusCode is 0 when the request never got a response.
func NewServiceError(operation string, statusCode int, body string) *StructuredError {
	msg := fmt.Sprintf("%s failed", operation)
	if statusCode > 0 {
		msg = fmt.Sprintf("%s failed (HTTP %d): %s", operation, statusCode, body)
	}
	return New(CodeServiceError, ExternalError, msg).
		WithDetails(map[string]interface{}{
			"operation":   operation,
			"status_code": statusCode,
		}).
		WithSuggestion("Check the query service status and the environment URL")
}

// NewAuthFailed creates an authentication failed error
func NewAuthFailed(message string) *StructuredError {
	return New(CodeAuthFailed, ExternalError, message).
		WithSuggestion("Check the platform token or OAuth client credentials and their scopes")
}

// NewNetworkError creates a network error
func NewNetworkError(message string) *StructuredError {
	return New(CodeNetworkError, ExternalError, message).
		WithSuggestion("Check your network connection and try again")
}

// StatusCode returns the HTTP status recorded on a service error, or 0.
func StatusCode(err error) int {
	se, ok := As(err)
	if !ok {
		return 0
	}
	details, ok := se.Details.(map[string]interface{})
	if !ok {
		return 0
	}
	code, _ := details["status_code"].(int)
	return code
}

// FromHTTPStatus creates a service error for a failed response, refined by status.
// Every result matches ErrService so callers can treat them uniformly.
func FromHTTPStatus(operation string, statusCode int, responseBody string) *StructuredError {
	err := NewServiceError(operation, statusCode, responseBody)
	switch {
	case statusCode == http.StatusBadRequest:
		err.Category = ClientError
		err.Suggestion = "Check the DQL statement; run verify_dql to see syntax problems"
	case statusCode == http.StatusUnauthorized:
		err.Category = ClientError
		err.Suggestion = "Check the platform token or OAuth client credentials"
	case statusCode == http.StatusForbidden:
		err.Category = ClientError
		err.Suggestion = "The token is missing the storage read scopes for this query"
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		err.Suggestion = "The query result is gone; run the query again"
	case statusCode == http.StatusTooManyRequests:
		err.Suggestion = "The query service is throttling requests; wait a moment and try again"
	case statusCode >= 500 && statusCode < 600:
		err.Suggestion = "The query service is having trouble; try again later"
	}
	return err
}
