package update

import (
	"fmt"
	"net/http"
	"time"
	"updatehub/internal/models"
)

// ServiceError represents errors from the update service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors for common service errors

func NewVersionNotFoundError(version string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeVersionNotFound,
		Message:    fmt.Sprintf("version '%s' not found", version),
		StatusCode: http.StatusNotFound,
	}
}

func NewNoActiveVersionError(channel string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeNoActiveVersion,
		Message:    fmt.Sprintf("no active version on channel '%s'", channel),
		StatusCode: http.StatusNotFound,
	}
}

func NewInvalidRequestError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewValidationError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeValidation,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewConflictError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewDuplicateVersionError(version string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeDuplicateVersion,
		Message:    fmt.Sprintf("version '%s' already exists", version),
		StatusCode: http.StatusConflict,
	}
}

func NewChecksumMismatchError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeChecksumMismatch,
		Message:    "declared checksum does not match uploaded content",
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

func NewInvalidArtifactError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInvalidArtifact,
		Message:    "uploaded package failed validation",
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

func NewRateLimitedError(retryAfter time.Duration) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeRateLimited,
		Message:    "rate limit exceeded",
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

func NewRangeNotSatisfiableError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeRangeNotSatisfiable,
		Message:    "requested range is not satisfiable",
		StatusCode: http.StatusRequestedRangeNotSatisfiable,
		Err:        err,
	}
}

func NewPayloadTooLargeError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodePayloadTooLarge,
		Message:    "uploaded package exceeds the size limit",
		StatusCode: http.StatusRequestEntityTooLarge,
		Err:        err,
	}
}

func NewNotFoundError(message string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}
