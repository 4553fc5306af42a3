package core

import (
	"errors"
	"fmt"
)

// Fatal error classes. Only these propagate to callers; every other problem
// is collected into the import report.
var (
	// ErrInvalidInput marks malformed or empty file structure.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIO marks an unreadable input or an unavailable store.
	ErrIO = errors.New("io error")
)

// ErrSessionNotFound is returned when a session id is unknown to the store.
var ErrSessionNotFound = errors.New("import session not found")

// ErrImportNotFound is returned for ids no longer tracked in memory.
var ErrImportNotFound = errors.New("import not found")

func invalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func ioErrorf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, fmt.Sprintf(format, args...), err)
}

// rowError is a collected failure of a single row. It is returned from the
// savepoint closure so the committer can tell it apart from a broken
// transaction.
type rowError struct {
	kind    ErrorKind
	message string
	hint    string
}

func (e *rowError) Error() string {
	return string(e.kind) + ": " + e.message
}

func newRowError(kind ErrorKind, format string, args ...any) *rowError {
	return &rowError{kind: kind, message: fmt.Sprintf(format, args...)}
}
