package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a bot, spec or broadcast does not exist
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a unique constraint rejects a create
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrDisabled is returned when an operation targets a disabled bot
	ErrDisabled = errors.New("bot is disabled")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
