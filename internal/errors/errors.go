// Package errors defines the structured API error vocabulary shared by
// the HTTP transport and its clients.
package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response.
type APIError struct {
	StatusCode int         `json:"-"`
	ErrorCode  string      `json:"code"`
	Message    string      `json:"error"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer for chi/render.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError.
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details.
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined errors for the protocol's failure modes.
var (
	// 400 Bad Request
	ErrInvalidRequest   = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrMissingParameter = New(http.StatusBadRequest, "MISSING_PARAMETER", "Missing license key or MAC address")

	// 403 Forbidden
	ErrTokenInvalid       = New(http.StatusForbidden, "TOKEN_INVALID", "Invalid or expired access token")
	ErrVerificationFailed = New(http.StatusForbidden, "VERIFICATION_FAILED", "Human verification failed")

	// 404 Not Found
	ErrFirmwareNotFound = New(http.StatusNotFound, "FIRMWARE_NOT_FOUND", "Firmware not found")

	// 429 Too Many Requests
	ErrRateLimited = New(http.StatusTooManyRequests, "RATE_LIMITED", "Daily download limit reached. Try again tomorrow.")

	// 500 Internal Server Error
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
	ErrUpstream       = New(http.StatusInternalServerError, "UPSTREAM_ERROR", "Failed to fetch firmware from origin")

	// 503 Service Unavailable
	ErrStoreUnavailable = New(http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Storage temporarily unavailable")
)

// InvalidRequestWithError creates an invalid request error carrying the
// decode failure.
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// MissingParameter reports a specific absent field.
func MissingParameter(field string) *APIError {
	return NewWithDetails(http.StatusBadRequest, "MISSING_PARAMETER", "Missing license key or MAC address", field)
}
