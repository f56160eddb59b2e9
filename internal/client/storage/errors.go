package storage

import "errors"

// Common client storage errors
var (
	// ErrAuthNotFound indicates that no relay session exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrKeyNotFound indicates that no saved encryption key exists
	ErrKeyNotFound = errors.New("encryption key not found")

	// ErrCheckpointNotFound indicates that sync was never configured
	ErrCheckpointNotFound = errors.New("sync checkpoint not found")

	// ErrClockNotFound indicates that clock state was never persisted
	ErrClockNotFound = errors.New("clock state not found")

	// ErrUnknownColumn indicates a column that does not exist in the dataset table
	ErrUnknownColumn = errors.New("unknown column")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
