// Package controller holds the shared HTTP response and error contract for
// the service's JSON endpoints.
package controller

import (
	"context"
	"errors"
	"net/http"
)

// AppError is the single application error contract shared across layers.
// Code is the short machine-readable reason surfaced to callers.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrorResponse represents the consistent error response format.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewValidationError creates a client error for missing or malformed input.
func NewValidationError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusBadRequest}
}

// NewUnauthorizedError creates an authentication error.
func NewUnauthorizedError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusNotFound}
}

// NewPayloadTooLargeError creates a client error for oversized request bodies.
func NewPayloadTooLargeError(message string) *AppError {
	return &AppError{Code: "payload_too_large", Message: message, HTTPStatus: http.StatusRequestEntityTooLarge}
}

// NewTooManyRequestsError creates a rate limiting error.
func NewTooManyRequestsError(message string) *AppError {
	return &AppError{Code: "rate_limited", Message: message, HTTPStatus: http.StatusTooManyRequests}
}

// NewDeliveryError creates a server error for a failed downstream publish.
func NewDeliveryError(message string, cause error) *AppError {
	return &AppError{Code: "delivery_failed", Message: message, HTTPStatus: http.StatusBadGateway, Err: cause}
}

// NewInternalError creates a server error with an optional cause.
func NewInternalError(message string, cause error) *AppError {
	return &AppError{Code: "internal_error", Message: message, HTTPStatus: http.StatusInternalServerError, Err: cause}
}

// MapError maps application errors to HTTP responses. Unrecognized errors
// become opaque 500s so internals never leak to callers.
func MapError(ctx context.Context, err error) (int, ErrorResponse) {
	requestID := getRequestID(ctx)

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, ErrorResponse{
			Error:     "internal_server_error",
			Code:      "internal_error",
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		}
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	return status, ErrorResponse{
		Error:     errorCategory(status),
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: requestID,
	}
}

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value("request_id").(string); ok {
		return id
	}
	return ""
}

func errorCategory(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "authentication_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 400 && status < 500:
		return "validation_error"
	case status == http.StatusBadGateway:
		return "delivery_error"
	default:
		return "internal_server_error"
	}
}
