package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is matched by every ValidationError
var ErrValidation = errors.New("validation failed")

// ValidationError lists the missing or invalid fields of an entity
type ValidationError struct {
	Entity string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: missing or invalid fields [%s]", e.Entity, strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is match ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
