package repo

import "errors"

// Common repository errors
var (
	// ErrBoardNotFound indicates that the board does not exist
	ErrBoardNotFound = errors.New("board not found")

	// ErrElementNotFound indicates that the element does not exist on the board
	ErrElementNotFound = errors.New("element not found")

	// ErrSnapshotNotFound indicates that no document snapshot was flushed yet
	ErrSnapshotNotFound = errors.New("snapshot not found")
)
