package storage

import "errors"

// Package-specific errors.
var (
	// ErrNotFound indicates the key does not exist in the store.
	ErrNotFound = errors.New("storage: key not found")

	// ErrUnavailable indicates the backing store cannot be reached.
	ErrUnavailable = errors.New("storage: backend unavailable")
)
