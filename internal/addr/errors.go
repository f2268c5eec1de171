package addr

import (
	"errors"
	"fmt"
)

// CanonicalizationError reports a value that has no canonical form:
// a non-finite number, an unsupported Go type, invalid UTF-8, or an Absent
// value outside of an object.
//
// It is fatal for the operation that produced it. Values are never coerced.
type CanonicalizationError struct {
	// Path locates the offending value, e.g. `$.payload.props["x"]`.
	Path string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *CanonicalizationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("canonicalize: %s", e.Message)
	}
	return fmt.Sprintf("canonicalize %s: %s", e.Path, e.Message)
}

// IsCanonicalizationError returns true if err is or wraps a CanonicalizationError.
func IsCanonicalizationError(err error) bool {
	var ce *CanonicalizationError
	return errors.As(err, &ce)
}

func canonErr(path, format string, args ...any) error {
	return &CanonicalizationError{Path: path, Message: fmt.Sprintf(format, args...)}
}
