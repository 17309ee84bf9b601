package security

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Validation limits.
const (
	// Query limits.
	MinQueryLength = 1
	MaxQueryLength = 4000

	// Identifier limits.
	MaxIDLength = 128
)

// ValidationError represents a field validation error.
type ValidationError struct {
	Field      string
	Value      interface{}
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Constraint)
}

// idRegex matches valid user and conversation identifiers.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateQuery validates a user question.
// Requirements: required, 1-4000 chars, valid UTF-8.
func ValidateQuery(query string) error {
	if query == "" {
		return &ValidationError{
			Field:      "query",
			Constraint: "required",
		}
	}

	length := utf8.RuneCountInString(query)
	if length > MaxQueryLength {
		return &ValidationError{
			Field:      "query",
			Value:      length,
			Constraint: fmt.Sprintf("maximum length is %d characters", MaxQueryLength),
		}
	}

	if !utf8.ValidString(query) {
		return &ValidationError{
			Field:      "query",
			Constraint: "must be valid UTF-8",
		}
	}

	return nil
}

// ValidateID validates an optional user or conversation identifier.
// Empty is allowed; the field name appears in the error.
func ValidateID(field, id string) error {
	if id == "" {
		return nil
	}

	if utf8.RuneCountInString(id) > MaxIDLength {
		return &ValidationError{
			Field:      field,
			Constraint: fmt.Sprintf("maximum length is %d characters", MaxIDLength),
		}
	}

	if !idRegex.MatchString(id) {
		return &ValidationError{
			Field:      field,
			Constraint: "must be alphanumeric with _ . - separators",
		}
	}

	return nil
}
