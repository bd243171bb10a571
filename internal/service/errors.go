package service

import "errors"

// Domain errors, checkable with errors.Is.
var (
	// ErrServiceNotFound is returned when no service matches domain+name.
	ErrServiceNotFound = errors.New("service: not found")

	// ErrServiceExists is returned when registering a duplicate service.
	ErrServiceExists = errors.New("service: already registered")

	// ErrInvalidCall is returned when a call payload fails schema validation.
	ErrInvalidCall = errors.New("service: invalid call")
)
