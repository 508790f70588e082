package common

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors - use errors.Is() to check
var (
	// Generic errors
	ErrInternal     = errors.New("internal error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("already exists")

	// Authentication errors
	ErrInvalidToken = fmt.Errorf("invalid token: %w", ErrUnauthorized)

	// Resource-specific errors
	ErrJobNotFound   = fmt.Errorf("job %w", ErrNotFound)
	ErrBatchNotFound = fmt.Errorf("batch %w", ErrNotFound)

	// Job lifecycle errors
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrVendorRefImmutable = errors.New("vendor job reference already set")

	// Generation errors, one per Kind
	ErrInvalidInput           = errors.New("invalid input")
	ErrVendorRejected         = errors.New("vendor rejected request")
	ErrVendorTransient        = errors.New("vendor transient error")
	ErrTimeout                = errors.New("generation timed out")
	ErrVendorGenerationFailed = errors.New("vendor generation failed")
	ErrPostProcessingFailed   = errors.New("post-processing failed")
	ErrCancelled              = errors.New("generation cancelled")

	// Validation errors
	ErrValidation = fmt.Errorf("validation error: %w", ErrInvalidInput)
)

// Kind is the stable, wire-visible name of an error class.
type Kind string

const (
	KindInvalidInput           Kind = "invalid_input"
	KindVendorRejected         Kind = "vendor_rejected"
	KindVendorTransient        Kind = "vendor_transient"
	KindTimeout                Kind = "timeout"
	KindVendorGenerationFailed Kind = "vendor_generation_failed"
	KindPostProcessingFailed   Kind = "post_processing_failed"
	KindCancelled              Kind = "cancelled"
	KindInternal               Kind = "internal"
)

// KindOf classifies err into one of the Kinds. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrVendorRejected):
		return KindVendorRejected
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrVendorGenerationFailed):
		return KindVendorGenerationFailed
	case errors.Is(err, ErrVendorTransient):
		return KindVendorTransient
	case errors.Is(err, ErrPostProcessingFailed):
		return KindPostProcessingFailed
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is implements errors.Is for ValidationError
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation || target == ErrInvalidInput
}

// InvalidInput wraps a message as an invalid input error
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// WrapInternal wraps an error as an internal error with context
func WrapInternal(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, errors.Join(ErrInternal, err))
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized checks if error is an unauthorized error
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsInvalidInput checks if error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRetryable reports whether the poll loop may retry after err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVendorTransient)
}
