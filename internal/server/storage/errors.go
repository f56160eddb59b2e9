package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that account was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that username is already taken
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrTokenNotFound indicates that refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrFileNotFound indicates that budget file was not found
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidMessage indicates that message envelope is malformed
	ErrInvalidMessage = errors.New("invalid message")
)
