package snapshot

import "errors"

var (
	// ErrCorrupt is returned when a stored document cannot be decoded.
	ErrCorrupt = errors.New("snapshot document corrupt")

	// ErrUnsupportedVersion is returned for documents written by a newer format.
	ErrUnsupportedVersion = errors.New("snapshot document version not supported")
)
