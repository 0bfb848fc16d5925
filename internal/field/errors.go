package field

import "errors"

// Domain errors for the field package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, field.ErrAccessDenied) {
//	    // field is read-only
//	}
var (
	// ErrNotFound is returned when an ID or name does not address a field.
	ErrNotFound = errors.New("field: not found")

	// ErrStaleID is returned when an ID was issued by an earlier generation.
	ErrStaleID = errors.New("field: stale id")

	// ErrDuplicateName is returned when registering a name twice in one generation.
	ErrDuplicateName = errors.New("field: duplicate name")

	// ErrInvalidDef is returned when a field definition is malformed.
	ErrInvalidDef = errors.New("field: invalid definition")

	// ErrAccessDenied is returned when writing a field that is not writable.
	ErrAccessDenied = errors.New("field: access denied")

	// ErrTypeMismatch is returned when a value's type differs from the field's type.
	ErrTypeMismatch = errors.New("field: type mismatch")

	// ErrRange is returned when a value violates the field's declared limits.
	ErrRange = errors.New("field: value out of range")

	// ErrInvalidLimit is returned when a limit string cannot be parsed.
	ErrInvalidLimit = errors.New("field: invalid limit")

	// ErrFieldInError is returned when reading a field in Error state.
	ErrFieldInError = errors.New("field: in error state")

	// ErrNoValue is returned when reading a field that has never been set.
	ErrNoValue = errors.New("field: no value yet")

	// ErrInvalidValue is returned when text cannot be parsed as a value.
	ErrInvalidValue = errors.New("field: invalid value")
)
