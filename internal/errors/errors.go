// Package errors defines the error kinds shared by app registries, the dispatch worker and
// the HTTP handlers. Import it as apperrors.
package errors

import (
	"errors"
	"fmt"
)

// ErrNotFound matches any NotFoundError with errors.Is.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a missing resource, such as an unknown or disabled app.
type NotFoundError struct {
	Resource string
	Message  string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Resource != "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}

	return "resource not found"
}

// Is matches every NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{Resource: resource, Message: message}
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrValidation matches any ValidationError with errors.Is.
var ErrValidation = &ValidationError{}

// ValidationError reports input that is well formed but not acceptable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return fmt.Sprintf("validation failed for field: %s", e.Field)
	}

	return "validation error"
}

// Is matches every ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
