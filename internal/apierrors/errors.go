// Package apierrors defines the error taxonomy every externally visible
// failure in the batch server is translated into at the HTTP boundary.
package apierrors

import "fmt"

// Code is one of the six error classes the HTTP layer maps to status codes.
type Code string

const (
	CodeInvalidRequest Code = "invalid_request"
	CodeQueueFull       Code = "queue_full"
	CodeNotFound        Code = "not_found"
	CodeStateConflict   Code = "state_conflict"
	CodeProcessingError Code = "processing_error"
	CodeInternalError   Code = "internal_error"
)

// APIError is the typed error every internal package can construct and
// the HTTP layer knows how to render as a JSON error envelope.
type APIError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Cause }

// StatusCode returns the conventional HTTP status for the error's class.
func (e *APIError) StatusCode() int {
	switch e.Code {
	case CodeInvalidRequest:
		return 400
	case CodeNotFound:
		return 404
	case CodeStateConflict:
		return 409
	case CodeQueueFull:
		return 429
	case CodeProcessingError:
		return 422
	default:
		return 500
	}
}

func New(code Code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *APIError {
	return &APIError{Code: code, Message: message, Cause: cause}
}

func NotFound(kind, id string) *APIError {
	return New(CodeNotFound, fmt.Sprintf("%s %q not found", kind, id))
}

func InvalidRequest(format string, args ...any) *APIError {
	return New(CodeInvalidRequest, fmt.Sprintf(format, args...))
}

func QueueFull(message string) *APIError {
	return New(CodeQueueFull, message)
}

func StateConflict(format string, args ...any) *APIError {
	return New(CodeStateConflict, fmt.Sprintf(format, args...))
}

func ProcessingError(format string, args ...any) *APIError {
	return New(CodeProcessingError, fmt.Sprintf(format, args...))
}

func Internal(message string, cause error) *APIError {
	return Wrap(CodeInternalError, message, cause)
}
