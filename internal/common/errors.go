package common

import (
	"errors"
	"net/http"
)

// Error codes returned in the "error.code" field of API responses.
const (
	CodeBadRequest            = "BAD_REQUEST"
	CodeInvalidBody           = "INVALID_BODY"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeInvalidTrackingNumber = "INVALID_TRACKING_NUMBER"
	CodeBatchTooLarge         = "BATCH_TOO_LARGE"
	CodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeNotFound              = "NOT_FOUND"
	CodeReadOnly              = "READ_ONLY"
	CodeRateLimited           = "RATE_LIMITED"
	CodeCacheUnavailable      = "CACHE_UNAVAILABLE"
	CodeHistoryUnavailable    = "HISTORY_UNAVAILABLE"
	CodeQueueUnavailable      = "QUEUE_UNAVAILABLE"
	CodeRegistryUnavailable   = "REGISTRY_UNAVAILABLE"
	CodeInternal              = "INTERNAL"
)

// AppError carries the HTTP status and code an error is rendered with.
// Message is safe to show to callers; Err is kept for logs and errors.Is.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError reports whether err wraps an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// StatusOf returns the HTTP status err should be rendered with: the wrapped
// AppError's status, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// CodeOf returns the API error code for err, CodeInternal for plain errors.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}
