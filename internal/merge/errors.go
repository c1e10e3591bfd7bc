package merge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStillComputing blocks a save while computed columns are pending.
	ErrStillComputing = errors.New("columns are still computing")
	// ErrInvalidFields blocks a save while columns hold invalid input.
	ErrInvalidFields = errors.New("fields have validation errors")
	// ErrComputedColumn is returned for local edits of a computed column.
	ErrComputedColumn = errors.New("computed columns cannot be edited")
	// ErrUnknownColumn is returned for edits of a column not in the registry.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrClosed is returned after the session was closed.
	ErrClosed = errors.New("session closed")
)

// SaveError lists the columns that block a save.
type SaveError struct {
	Err     error
	Columns []string
}

func (e *SaveError) Error() string {
	if len(e.Columns) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Columns, ", "))
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
