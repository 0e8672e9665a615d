package storage

import "errors"

// Storage error constants
var (
	// ErrAlertNotFound is returned when an alert is not found
	ErrAlertNotFound = errors.New("alert not found")

	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrSinkUnavailable wraps connection failures of a remote sink
	ErrSinkUnavailable = errors.New("sink unavailable")

	// ErrInvalidIdentifier is returned for unsafe database or table names
	ErrInvalidIdentifier = errors.New("invalid identifier")
)
