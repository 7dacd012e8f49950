package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by stores when a derived record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMalformedEvent is returned when a raw message cannot become an Event.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrInvalidScope is returned when a recompute is requested without a task id.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrQueueClosed is returned by Enqueue after the materializer stopped.
	ErrQueueClosed = errors.New("scope queue closed")
)

// ScopeError reports the failure of one scope during a multi-scope run.
type ScopeError struct {
	Scope string
	Err   error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope %s: %v", e.Scope, e.Err)
}

func (e *ScopeError) Unwrap() error {
	return e.Err
}

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeUnavailable    ErrorType = "unavailable"
	ErrorTypeServer         ErrorType = "server"
)

// APIError is the error body returned by the query API.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the HTTP status matching the error type.
func (e *APIError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToAPIError maps an internal error onto an APIError.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrNotFound):
		return &APIError{Type: ErrorTypeNotFound, Message: err.Error()}
	case errors.Is(err, ErrInvalidScope), errors.Is(err, ErrMalformedEvent):
		return &APIError{Type: ErrorTypeInvalidRequest, Message: err.Error()}
	case errors.Is(err, ErrQueueClosed):
		return &APIError{Type: ErrorTypeUnavailable, Message: err.Error()}
	default:
		return &APIError{Type: ErrorTypeServer, Message: err.Error()}
	}
}
