// Package service holds the business logic behind the HTTP handlers:
// accounts and tokens, tracked repositories, provider sync and analytics.
package service

import (
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports invalid input per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for field, msg := range e.Fields {
			return field + ": " + msg
		}
	}
	return ErrValidation.Error()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func fieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// validationErrors collects field errors and returns nil when there are none.
type validationErrors map[string]string

func (v validationErrors) add(field string, err error) {
	if err == nil {
		return
	}
	if _, exists := v[field]; exists {
		return
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		for _, msg := range ve.Fields {
			v[field] = msg
			return
		}
	}
	v[field] = err.Error()
}

func (v validationErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Fields: v}
}

func generateULID() string {
	return ulid.Make().String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
