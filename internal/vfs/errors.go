package vfs

import "errors"

var (
	// ErrNotFound means a path segment or node does not exist.
	ErrNotFound = errors.New("vfs: not found")

	// ErrInvalidPath means a path or node name cannot be used as given.
	ErrInvalidPath = errors.New("vfs: invalid path")
)
