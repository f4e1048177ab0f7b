// Package apierror defines the client-facing error envelope. Every error
// returned to a caller is `{"error": {"type": ..., "message": ...}}` with a
// machine-readable type.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func New(status int, errType, message string) *Error {
	return &Error{Status: status, Type: errType, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func NotFound(errType, message string) *Error {
	return New(http.StatusNotFound, errType, message)
}

func Invalid(message string) *Error {
	return New(http.StatusBadRequest, "invalid_request_error", message)
}

// From extracts an *Error from err, or wraps it as an opaque 500.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return New(http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred.")
}
