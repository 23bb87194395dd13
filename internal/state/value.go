package state

import (
	"fmt"
	"strings"
)

// Value is the state of the controlled output.
type Value string

// Supported values.
const (
	On      Value = "on"
	Off     Value = "off"
	Unknown Value = "unknown"
)

// IsValid reports whether v is one of On, Off, Unknown.
func (v Value) IsValid() bool {
	switch v {
	case On, Off, Unknown:
		return true
	}
	return false
}

// IsCommand reports whether v can be issued as a command.
// Unknown is a valid state but never a valid instruction.
func (v Value) IsCommand() bool {
	return v == On || v == Off
}

func (v Value) String() string {
	return string(v)
}

// ParseValue parses a device-reported state. Matching is case-insensitive and
// ignores surrounding whitespace.
func ParseValue(s string) (Value, error) {
	v := Value(strings.ToLower(strings.TrimSpace(s)))
	if !v.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	return v, nil
}

// ParseCommand parses a dashboard command. Only on and off are accepted, and
// matching is exact so "ON" or "toggle" are rejected at the boundary.
func ParseCommand(s string) (Value, error) {
	v := Value(s)
	if !v.IsCommand() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
	return v, nil
}
