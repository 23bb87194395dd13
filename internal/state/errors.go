package state

import "errors"

// Domain-specific errors for state values.
var (
	// ErrInvalidValue is returned when a string is not one of on, off, unknown.
	ErrInvalidValue = errors.New("state: invalid value")

	// ErrInvalidCommand is returned when a command is not on or off.
	ErrInvalidCommand = errors.New("state: invalid command")
)
