package keypad

import "errors"

var (
	// ErrMalformedRequest is returned for payloads that are not valid JSON
	// or fail field validation.
	ErrMalformedRequest = errors.New("keypad: malformed request")

	// ErrUnknownMethod is returned for validation topics naming neither code nor tag.
	ErrUnknownMethod = errors.New("keypad: unknown credential method")

	// ErrUnknownCommand is returned for command topics naming no known operation.
	ErrUnknownCommand = errors.New("keypad: unknown command")

	// ErrUnroutable is returned for topics outside the access hierarchy.
	ErrUnroutable = errors.New("keypad: unroutable topic")
)
