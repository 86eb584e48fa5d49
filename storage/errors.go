package storage

import "errors"

var (
	// ErrDatabaseClosed is returned by every operation after Close.
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrInvalidLimit is returned when a listing limit is not positive.
	ErrInvalidLimit = errors.New("limit must be greater than 0")

	// ErrEventNotFound is returned when an alert references an unknown event.
	ErrEventNotFound = errors.New("event not found")
)
