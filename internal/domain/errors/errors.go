package errors

import (
	"errors"
	"fmt"
)

var (
	// Receipt errors
	ErrReceiptNotFound        = errors.New("receipt not found")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// Mailbox errors
	ErrInboxWriteFailed  = errors.New("inbox write failed")
	ErrDriverUnavailable = errors.New("fiscal driver unavailable")
	ErrTimeoutTooLarge   = errors.New("timeout exceeds configured maximum")

	// Idempotency errors
	ErrRequestInProgress = errors.New("request with this idempotency key is in progress")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
