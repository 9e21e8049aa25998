// Package validation provides struct validation and custom validators.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pushgate/webhooks/internal/api/response"
	"github.com/pushgate/webhooks/internal/datatypes"
)

// validate is safe for concurrent use once init has registered every custom validator.
// Do not register validators after init.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report json names so errors match the wire form.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	if err := validate.RegisterValidation("event_type", validateEventType); err != nil {
		slog.Error("Failed to register event_type validator", "error", err)
	}

	if err := validate.RegisterValidation("no_null_bytes", validateNoNullBytes); err != nil {
		slog.Error("Failed to register no_null_bytes validator", "error", err)
	}
}

// Error is returned by ValidateStruct. It unwraps to validator.ValidationErrors.
type Error struct {
	Fields validator.ValidationErrors
}

func (e *Error) Error() string {
	messages := make([]string, 0, len(e.Fields))
	for _, fe := range e.Fields {
		messages = append(messages, formatFieldError(fe))
	}

	return "validation failed: " + strings.Join(messages, "; ")
}

func (e *Error) Unwrap() error { return e.Fields }

// ValidateStruct validates s against its validate tags.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		return &Error{Fields: fields}
	}

	return fmt.Errorf("validate: %w", err)
}

// FieldErrors returns the field errors carried by err, or nil.
func FieldErrors(err error) validator.ValidationErrors {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		return fields
	}

	return nil
}

// formatFieldError formats a single field validation error.
func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()

	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return field + " is required"
	case "excluded_with":
		return fmt.Sprintf("%s must not be set together with %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "unique":
		return field + " must not contain duplicates"
	case "http_url":
		return field + " must be an absolute http(s) url"
	case "event_type":
		return fmt.Sprintf("%s must be one of: %s", field, eventKindList())
	case "no_null_bytes":
		return field + " must not contain NULL bytes"
	default:
		return field + " is invalid"
	}
}

func eventKindList() string {
	kinds := datatypes.AllEventKinds()

	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}

	return strings.Join(names, ", ")
}

// ErrorDetails extracts field-level details for a problem response.
func ErrorDetails(err error) []response.ErrorDetail {
	fields := FieldErrors(err)

	details := make([]response.ErrorDetail, 0, len(fields))
	for _, fe := range fields {
		details = append(details, response.ErrorDetail{
			Location: fe.Field(),
			Message:  formatFieldError(fe),
			Value:    fe.Value(),
		})
	}

	return details
}

// RespondValidationError writes a 422 problem response listing every failed field.
func RespondValidationError(w http.ResponseWriter, err error) {
	problem := response.ProblemDetails{
		Type:   "about:blank",
		Title:  "Validation Error",
		Status: http.StatusUnprocessableEntity,
		Detail: err.Error(),
		Errors: ErrorDetails(err),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		slog.Error("Failed to encode validation error response", "error", err)
	}
}

// validateEventType accepts strings and EventKind values naming a known event kind.
func validateEventType(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return false
	}

	_, ok := datatypes.ParseEventKind(field.String())

	return ok
}

// validateNoNullBytes checks that a string field does not contain NULL bytes.
func validateNoNullBytes(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return true
	}

	return !strings.ContainsRune(field.String(), 0)
}
