package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name: "with wrapped error",
			err: &DomainError{
				Code:    "fiscal_error",
				Message: "fiscal printer rejected command",
				Err:     errors.New("paper out"),
			},
			expected: "fiscal printer rejected command: paper out",
		},
		{
			name: "without wrapped error",
			err: &DomainError{
				Code:    "invalid_state",
				Message: "cannot resolve receipt in current state",
				Err:     nil,
			},
			expected: "cannot resolve receipt in current state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	domainErr := &DomainError{
		Code:    "test",
		Message: "test message",
		Err:     originalErr,
	}

	unwrapped := domainErr.Unwrap()
	assert.Equal(t, originalErr, unwrapped)
}

func TestNewDomainError(t *testing.T) {
	originalErr := errors.New("underlying error")
	err := NewDomainError("test_code", "test message", originalErr)

	assert.NotNil(t, err)
	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "test message", err.Message)
	assert.Equal(t, originalErr, err.Err)
}

func TestNewDomainError_NilWrappedError(t *testing.T) {
	err := NewDomainError("test_code", "test message", nil)

	assert.NotNil(t, err)
	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "test message", err.Message)
	assert.Nil(t, err.Err)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Field:   "payment",
		Message: "must be CASH or CARD",
	}

	expected := "validation failed for field payment: must be CASH or CARD"
	assert.Equal(t, expected, err.Error())
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("items", "cannot be empty")

	assert.NotNil(t, err)
	assert.Equal(t, "items", err.Field)
	assert.Equal(t, "cannot be empty", err.Message)
}

func TestErrorConstants(t *testing.T) {
	// Receipt errors
	assert.NotNil(t, ErrReceiptNotFound)
	assert.NotNil(t, ErrInvalidTransaction)
	assert.NotNil(t, ErrInvalidStateTransition)

	// Mailbox errors
	assert.NotNil(t, ErrInboxWriteFailed)
	assert.NotNil(t, ErrDriverUnavailable)
	assert.NotNil(t, ErrTimeoutTooLarge)

	// Idempotency errors
	assert.NotNil(t, ErrRequestInProgress)

	// Lock errors
	assert.NotNil(t, ErrLockAcquisitionFailed)
	assert.NotNil(t, ErrLockNotHeld)
}

func TestErrorUnwrapping(t *testing.T) {
	baseErr := ErrInboxWriteFailed
	wrappedErr := NewDomainError("inbox_write_failed", "could not persist command", baseErr)

	assert.True(t, errors.Is(wrappedErr, baseErr))
	assert.ErrorIs(t, wrappedErr, ErrInboxWriteFailed)
}
