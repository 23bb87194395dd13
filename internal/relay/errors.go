package relay

import "errors"

// Domain-specific errors for event routing.
var (
	// ErrInvalidCommand is returned when a dashboard command is not on or off.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidPayload is returned when an inbound event body cannot be decoded
	// or lacks a required field.
	ErrInvalidPayload = errors.New("invalid event payload")

	// ErrInvalidSource is returned when a command names an unknown source.
	ErrInvalidSource = errors.New("invalid command source")

	// ErrUnknownEvent is returned for event names the relay does not route.
	ErrUnknownEvent = errors.New("unknown event")
)
