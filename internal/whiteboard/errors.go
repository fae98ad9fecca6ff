package whiteboard

import "errors"

var (
	// ErrAccessDenied is returned when the caller is neither owner nor member
	// of a private board, or is a viewer trying to edit. Never broadcast.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound is returned when the board (or element) is missing after
	// every conditional write option is exhausted.
	ErrNotFound = errors.New("not found")

	// ErrStorage wraps transient persistence failures; the caller may retry.
	ErrStorage = errors.New("storage failure")

	// ErrMalformedElement is returned before storage is touched when the
	// element lacks its id or a known type.
	ErrMalformedElement = errors.New("malformed element")
)
