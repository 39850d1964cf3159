package service

import (
	"errors"

	"github.com/onetimeview/onetimeview/internal/validation"
)

// ErrNotFound covers every way a secret can be unavailable: unknown,
// expired, already viewed, wrong password or a used download link.
// Callers cannot tell these apart.
var ErrNotFound = errors.New("secret not found or expired")

// ErrFileTooLarge is wrapped by the ValidationError for an oversized upload.
var ErrFileTooLarge = validation.ErrFileTooLarge

// ValidationError describes a malformed submission.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
