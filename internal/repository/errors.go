package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a write collided with an existing identity key.
	ErrConflict = errors.New("repository: conflict")
	// ErrInvalidArgument indicates the store rejected the shape of a write.
	ErrInvalidArgument = errors.New("repository: invalid argument")
)
