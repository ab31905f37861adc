package transport

import (
	"fmt"
	"net/http"
)

// NetworkError reports a request that never produced an HTTP response: connection refused,
// DNS failure, timeout or context cancellation while in flight.
type NetworkError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx response.
type HTTPError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.Endpoint, http.StatusText(e.StatusCode))
}

// ParseError reports a 2xx response whose body is not the JSON the caller expected.
type ParseError struct {
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports invalid local input. It is always raised before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
