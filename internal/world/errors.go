package world

import (
	"errors"
	"fmt"
)

// ValidationCode categorizes validation failures.
type ValidationCode string

const (
	// CodeMissingField indicates a required envelope or payload field is empty.
	CodeMissingField ValidationCode = "missing_field"

	// CodeInvalidField indicates a field is present with the wrong type or value.
	CodeInvalidField ValidationCode = "invalid_field"

	// CodeUnknownOperation indicates the operation kind is not recognized.
	CodeUnknownOperation ValidationCode = "unknown_operation"

	// CodeTileMismatch indicates an event's space or tile differs from the
	// tile it was appended to.
	CodeTileMismatch ValidationCode = "tile_mismatch"

	// CodeDuplicateEvent indicates two different events share an id.
	CodeDuplicateEvent ValidationCode = "duplicate_event"

	// CodeCausalCycle indicates predecessor links form a cycle.
	CodeCausalCycle ValidationCode = "causal_cycle"
)

// ValidationError reports a malformed event. Nothing is persisted when an
// append fails validation; the caller must retry with a corrected payload.
type ValidationError struct {
	Code    ValidationCode
	Field   string
	EventID string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.EventID != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (event=%s, field=%s)", e.Code, e.Message, e.EventID, e.Field)
	case e.EventID != "":
		return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.EventID)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidationCodeOf returns the code of a wrapped ValidationError, or "".
func ValidationCodeOf(err error) ValidationCode {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

func missing(eventID, field string) *ValidationError {
	return &ValidationError{
		Code:    CodeMissingField,
		Field:   field,
		EventID: eventID,
		Message: "required field is empty",
	}
}

func invalid(eventID, field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:    CodeInvalidField,
		Field:   field,
		EventID: eventID,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrNotFound is wrapped by every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports an unknown tile or object. An unknown tile is a
// valid initial state; callers usually map this to an empty or 404 result.
type NotFoundError struct {
	Kind string // "tile", "object", "peer", ...
	Key  string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Kind, e.Key)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NotFound returns a NotFoundError for kind and key.
func NotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}
