// Package codec converts orbital state between OMM XML, the canonical
// model.OrbitalElementRecord and the fixed-column two-line element format,
// and derives secondary orbital parameters from mean elements.
//
// Everything in this package is a pure function of its inputs: no I/O, no
// shared state, nothing that blocks. Callers may fan records out across
// goroutines freely.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord is returned when a required source field is absent or
	// cannot be parsed.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrMissingPrerequisite is returned when a derivation lacks its inputs.
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	// ErrInvalidCharacter is returned when a line contains a character outside
	// the legacy alphabet.
	ErrInvalidCharacter = errors.New("invalid character")
	// ErrEncodingOverflow is returned when a value cannot fit its fixed-width
	// column.
	ErrEncodingOverflow = errors.New("encoding overflow")
	// ErrInvalidEccentricity is returned for eccentricities outside [0, 1).
	ErrInvalidEccentricity = errors.New("invalid eccentricity")
	// ErrChecksumMismatch is returned when a line's trailing digit disagrees
	// with its computed checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// FieldError attributes a codec failure to a named source or output field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, sentinel error, format string, args ...any) error {
	return &FieldError{
		Field: field,
		Err:   fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...),
	}
}
