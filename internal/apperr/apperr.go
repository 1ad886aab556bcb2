package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError carries per-field problems and matches ErrValidation.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid returns a validation error for a single field.
func Invalid(field, problem string) error {
	return &ValidationError{
		Message: fmt.Sprintf("%s %s", field, problem),
		Fields:  map[string]string{field: problem},
	}
}

// Conflict wraps ErrConflict with a message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Forbidden wraps ErrForbidden with a message.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// FromValidator converts validator errors into a ValidationError. Other errors pass through.
func FromValidator(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := map[string]string{}
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[field] = "is required"
		case "email":
			fields[field] = "must be a valid e-mail"
		case "min":
			fields[field] = "must be at least " + fe.Param()
		case "max":
			fields[field] = "must be at most " + fe.Param()
		case "len":
			fields[field] = "must have length " + fe.Param()
		case "oneof":
			fields[field] = "must be one of " + fe.Param()
		case "cnpj":
			fields[field] = "must be a valid CNPJ"
		default:
			fields[field] = "is invalid"
		}
	}
	return &ValidationError{Message: "invalid input", Fields: fields}
}
