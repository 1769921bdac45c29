package database

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Handle lookups when no record matches.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by InsertUser when one of the user's
	// credentials is already linked to another user.
	ErrConflict = errors.New("credential already linked")

	// ErrUnsupportedBackend is returned by AdapterFor when no factory is
	// registered for the descriptor's type tag.
	ErrUnsupportedBackend = errors.New("unsupported storage backend")

	// ErrClosed is returned by handles used after Close.
	ErrClosed = errors.New("handle closed")
)

// ConfigValidationError describes a malformed descriptor or descriptor
// set.  It is fatal at start-up.
type ConfigValidationError struct {
	Entry  string // offending entry name, empty for the top-level value
	Reason string
}

func (e *ConfigValidationError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("database config: %s", e.Reason)
	}
	return fmt.Sprintf("database config: entry %q: %s", e.Entry, e.Reason)
}
