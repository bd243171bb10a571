package area

import "errors"

var (
	// ErrAreaNotFound means the requested area does not exist.
	ErrAreaNotFound = errors.New("area: not found")

	// ErrAreaExists means an area with the same slug already exists.
	ErrAreaExists = errors.New("area: already exists")

	// ErrAreaInUse means entities still reference the area.
	ErrAreaInUse = errors.New("area: still referenced by entities")

	// ErrInvalidName means the area name failed validation.
	ErrInvalidName = errors.New("area: invalid name")
)
