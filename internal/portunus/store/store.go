package store

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClosed is returned when an exit time is set twice.
	ErrAlreadyClosed = errors.New("access event already closed")

	// ErrNotClosable is returned when closing an event that never put
	// anyone inside (denials, door-busy allows, manual opens).
	ErrNotClosable = errors.New("access event cannot be closed")

	ErrConflict = errors.New("already exists")
)
