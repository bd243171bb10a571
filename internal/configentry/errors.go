package configentry

import "errors"

// Domain errors, checkable with errors.Is.
var (
	// ErrEntryNotFound is returned when an entry id does not exist.
	ErrEntryNotFound = errors.New("configentry: not found")

	// ErrEntryExists is returned when the (domain, unique_id) pair is taken.
	ErrEntryExists = errors.New("configentry: already configured")

	// ErrNoHandler is returned when no handler is registered for a domain.
	ErrNoHandler = errors.New("configentry: no handler for domain")

	// ErrSetupRetry is returned by Setup hooks to request a retry with
	// backoff instead of failing the entry permanently.
	ErrSetupRetry = errors.New("configentry: setup retry requested")

	// ErrMigrationFailed is returned when entry data cannot be migrated
	// to the handler's current version.
	ErrMigrationFailed = errors.New("configentry: migration failed")

	// ErrNotLoaded is returned when unloading an entry that is not loaded.
	ErrNotLoaded = errors.New("configentry: not loaded")
)
