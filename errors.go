package dorm

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by strict Get calls when no row matches the query.
var ErrNotFound = errors.New("dorm: record not found")

// ErrMultipleObjects is returned by strict Get calls when more than one row
// matches the query.
var ErrMultipleObjects = errors.New("dorm: query returned multiple records")

// DescriptorError reports a malformed column declaration, such as a primary
// key on a non-integer storage type. It surfaces at declaration time and is
// always fatal; there is no recovery path for a bad schema declaration.
type DescriptorError struct {
	// Field is the declared field name, if known.
	Field string

	// Reason describes what is wrong with the declaration.
	Reason string
}

func (e *DescriptorError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("dorm: column %q: %s", e.Field, e.Reason)
	}
	return "dorm: " + e.Reason
}
