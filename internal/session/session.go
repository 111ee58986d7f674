// Package session provides the process-lifetime identifier that correlates
// detection requests and statistics polls.
package session

import "github.com/google/uuid"

// ID identifies one operator session. It is generated once at startup and
// never renewed.
type ID string

// New generates a fresh session identifier.
func New() ID {
	return ID(uuid.NewString())
}

// String returns the identifier as a plain string.
func (id ID) String() string {
	return string(id)
}

// Valid reports whether the identifier has been assigned.
func (id ID) Valid() bool {
	return id != ""
}
