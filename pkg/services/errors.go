package services

import (
	"errors"
	"fmt"
)

// ErrNotFound and ErrAlreadyExists re-surface store.Store's sentinel
// misses/conflicts to callers that should not import pkg/store directly —
// the API layer maps these, not store.ErrNotFound, to HTTP status codes,
// keeping the service's own sentinel vocabulary separate from the
// persistence layer it wraps.
var (
	ErrNotFound      = errors.New("services: not found")
	ErrAlreadyExists = errors.New("services: already exists")
)

// ValidationError wraps a single field-level validation failure (spec §6
// "400 on validation").
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
