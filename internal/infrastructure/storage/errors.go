package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ConflictError reports expenses that are already linked to another match.
// SaveMatch returns it without writing anything.
type ConflictError struct {
	Identifiers []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("expenses already matched: %s", strings.Join(e.Identifiers, ", "))
}
