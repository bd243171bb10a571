package entity

import "errors"

// Domain errors, checkable with errors.Is.
var (
	// ErrEntityNotFound is returned when an entity id does not exist.
	ErrEntityNotFound = errors.New("entity: not found")

	// ErrEntityExists is returned when adding an entity whose id is taken.
	ErrEntityExists = errors.New("entity: already exists")

	// ErrInvalidEntity is returned when entity validation fails.
	ErrInvalidEntity = errors.New("entity: invalid")

	// ErrInvalidID is returned for a malformed "domain.object_id".
	ErrInvalidID = errors.New("entity: invalid id")

	// ErrInvalidDomain is returned for an unrecognised domain.
	ErrInvalidDomain = errors.New("entity: invalid domain")

	// ErrInvalidName is returned when a name is empty or too long.
	ErrInvalidName = errors.New("entity: invalid name")
)
