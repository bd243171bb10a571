// Package entity provides the entity registry for Hearth Core.
//
// Entities are the common abstraction for every controllable or
// observable device feature — a humidifier, a humidity sensor, an alarm
// area, a firmware slot. They are keyed by "domain.object_id"
// (for example "humidifier.bedroom") and carry a state value plus a bag
// of typed attributes.
//
// The package splits three concerns, mirroring the rest of the core:
//
//   - Registry (registry.go): cached, thread-safe entity operations.
//     State writes publish state_changed events on the bus.
//   - Repository (repository.go): SQLite persistence.
//   - History (history.go): append-only state change recorder with
//     retention pruning.
//
// All registry reads return deep copies; callers can mutate results
// freely without corrupting the cache.
package entity
