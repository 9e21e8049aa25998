package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	err := fmt.Errorf("find app: %w", NewNotFoundError("app", "app abc not found"))

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, "find app: app abc not found", err.Error())
	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "validation failed for field: channel", NewValidationError("channel", "").Error())
	assert.Equal(t, "channel is required", NewValidationError("channel", "channel is required").Error())
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", NewValidationError("", ""))))
}

func TestNotFoundError_Error(t *testing.T) {
	assert.Equal(t, "app not found", NewNotFoundError("app", "").Error())
	assert.Equal(t, "resource not found", (&NotFoundError{}).Error())
}
