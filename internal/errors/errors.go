// Package errors provides structured error handling with kind classification
// and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of error for metrics and response formatting.
type Kind string

const (
	// KindValidation indicates a malformed ingest record or request (HTTP 400)
	KindValidation Kind = "ValidationError"
	// KindNotActive indicates an end-poll request while no poll is active (HTTP 409)
	KindNotActive Kind = "NotActiveError"
	// KindNotYetEligible indicates an end-poll request before the minimum poll duration (HTTP 409)
	KindNotYetEligible Kind = "NotYetEligibleError"
	// KindDispatch indicates a network/timeout/transport failure while delivering events (HTTP 502)
	KindDispatch Kind = "DispatchError"
	// KindConfig indicates an out-of-range threshold or negative duration at construction (HTTP 500)
	KindConfig Kind = "ConfigError"
	// KindInternal indicates an unclassified server-side error (HTTP 500)
	KindInternal Kind = "InternalError"
)

// Error is a structured error with kind, message, and context fields.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any

	// Dispatch sub-classification, meaningful only for KindDispatch.
	Timeout       bool
	CorsSuspected bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotActive, KindNotYetEligible:
		return http.StatusConflict
	case KindDispatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error.
func ValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Context: make(map[string]any)}
}

// NotActiveError creates the structured failure for ending a poll that is not active.
func NotActiveError(message string) *Error {
	return &Error{Kind: KindNotActive, Message: message, Context: make(map[string]any)}
}

// NotYetEligibleError creates the structured failure for ending a poll too early.
func NotYetEligibleError(message string) *Error {
	return &Error{Kind: KindNotYetEligible, Message: message, Context: make(map[string]any)}
}

// DispatchError creates a delivery failure error.
func DispatchError(message string, cause error) *Error {
	return &Error{Kind: KindDispatch, Message: message, Cause: cause, Context: make(map[string]any)}
}

// ConfigError creates a construction-time configuration error.
func ConfigError(message string, cause error) *Error {
	return &Error{Kind: KindConfig, Message: message, Cause: cause, Context: make(map[string]any)}
}

// InternalError creates an unclassified server-side error.
func InternalError(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// WithField adds a context field to the error (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithTimeout marks a dispatch error as caused by a request timeout.
func (e *Error) WithTimeout() *Error {
	e.Timeout = true
	return e
}

// WithCorsSuspected marks a dispatch error as an opaque transport failure,
// the server-side analog of a browser CORS rejection.
func (e *Error) WithCorsSuspected() *Error {
	e.CorsSuspected = true
	return e
}

// ErrorResponse is the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Kind    Kind           `json:"kind"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Kind: e.Kind, Context: e.Context}
}

// AsStructuredError converts any error into a structured Error. If err is
// already an *Error it is returned unchanged; otherwise it is wrapped as an
// internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}
	return InternalError("internal server error", err)
}
