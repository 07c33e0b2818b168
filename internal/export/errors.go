package export

import "errors"

var (
	// ErrNoChange is returned when neither side of a mutation holds a document.
	ErrNoChange = errors.New("export: mutation has no before or after document")

	// ErrInvalidOperation is returned for an unknown change type.
	ErrInvalidOperation = errors.New("export: invalid operation")

	// ErrInvalidPath is returned when a document path cannot be parsed.
	ErrInvalidPath = errors.New("export: invalid document path")
)
