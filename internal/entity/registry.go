package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/bus"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides entity management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups,
// and publishes state_changed events whenever state is written.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	events  *bus.Bus
	cache   map[string]*Entity // Cached entities by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new entity registry.
// The repository is used for persistence; events may be nil in tests
// that do not care about state change notifications.
func NewRegistry(repo Repository, events *bus.Bus) *Registry {
	return &Registry{
		repo:   repo,
		events: events,
		cache:  make(map[string]*Entity),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all entities from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	entities, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Entity, len(entities))
	for i := range entities {
		e := entities[i]
		r.cache[e.ID] = e.DeepCopy()
	}

	r.logger.Info("entity cache refreshed", "count", len(entities))
	return nil
}

// Get retrieves an entity by ID.
// Returns ErrEntityNotFound if the entity does not exist.
// The returned entity is a deep copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, id string) (*Entity, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new entity not yet cached)
	e, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = e.DeepCopy()
	r.cacheMu.Unlock()

	return e, nil
}

// List retrieves all entities.
// The returned entities are deep copies; callers can safely modify them.
func (r *Registry) List(ctx context.Context) ([]Entity, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		entities := make([]Entity, 0, len(r.cache))
		for _, e := range r.cache {
			// Deep copy to prevent external mutation of cache
			entities = append(entities, *e.DeepCopy())
		}
		return entities, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// ListByDomain retrieves all entities in a specific domain.
// The returned entities are deep copies; callers can safely modify them.
func (r *Registry) ListByDomain(ctx context.Context, domain Domain) ([]Entity, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var entities []Entity
		for _, e := range r.cache {
			if e.Domain == domain {
				entities = append(entities, *e.DeepCopy())
			}
		}
		return entities, nil
	}

	return r.repo.ListByDomain(ctx, domain)
}

// ListByPlatform retrieves all entities owned by a specific integration.
// The returned entities are deep copies; callers can safely modify them.
func (r *Registry) ListByPlatform(ctx context.Context, platform string) ([]Entity, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var entities []Entity
		for _, e := range r.cache {
			if e.Platform == platform {
				entities = append(entities, *e.DeepCopy())
			}
		}
		return entities, nil
	}

	return r.repo.ListByPlatform(ctx, platform)
}

// ListByEntry retrieves all entities attached to a config entry.
// The returned entities are deep copies; callers can safely modify them.
func (r *Registry) ListByEntry(ctx context.Context, entryID string) ([]Entity, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var entities []Entity
		for _, e := range r.cache {
			if e.ConfigEntryID != nil && *e.ConfigEntryID == entryID {
				entities = append(entities, *e.DeepCopy())
			}
		}
		return entities, nil
	}

	return r.repo.ListByEntry(ctx, entryID)
}

// ListByArea retrieves all entities in a specific area.
// The returned entities are deep copies; callers can safely modify them.
func (r *Registry) ListByArea(ctx context.Context, areaID string) ([]Entity, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var entities []Entity
		for _, e := range r.cache {
			if e.AreaID != nil && *e.AreaID == areaID {
				entities = append(entities, *e.DeepCopy())
			}
		}
		return entities, nil
	}

	return r.repo.ListByArea(ctx, areaID)
}

// Add registers a new entity. New entities start in the "unknown" state
// unless an initial state was set by the caller.
func (r *Registry) Add(ctx context.Context, e *Entity) error {
	if e != nil && e.ID == "" && e.Name != "" && e.Domain != "" {
		e.ID = BuildID(e.Domain, Slugify(e.Name))
	}

	// Validate
	if err := Validate(e); err != nil {
		return err
	}

	if e.State.Value == "" {
		e.State.Value = StateUnknown
	}
	now := time.Now().UTC()
	if e.State.UpdatedAt.IsZero() {
		e.State.UpdatedAt = now
	}
	if e.State.ChangedAt.IsZero() {
		e.State.ChangedAt = now
	}

	// Persist
	if err := r.repo.Create(ctx, e); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[e.ID] = e.DeepCopy()
	r.cacheMu.Unlock()

	r.publishStateChanged(e, nil, e.State)

	r.logger.Info("entity added", "id", e.ID, "platform", e.Platform)
	return nil
}

// Update updates an existing entity's metadata. State is written through
// SetState; Update preserves the current state.
func (r *Registry) Update(ctx context.Context, e *Entity) error {
	existing, err := r.Get(ctx, e.ID)
	if err != nil {
		return err
	}

	// Validate
	if err := Validate(e); err != nil {
		return err
	}

	// Preserve state; metadata updates never touch it
	e.State = existing.State
	e.CreatedAt = existing.CreatedAt

	// Persist
	if err := r.repo.Update(ctx, e); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[e.ID] = e.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("entity updated", "id", e.ID)
	return nil
}

// Remove deletes an entity.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("entity removed", "id", id)
	return nil
}

// RemoveByEntry deletes every entity attached to a config entry.
// Called when an entry is removed so no orphaned entities remain.
func (r *Registry) RemoveByEntry(ctx context.Context, entryID string) error {
	ids, err := r.repo.DeleteByEntry(ctx, entryID)
	if err != nil {
		return err
	}

	r.cacheMu.Lock()
	for _, id := range ids {
		delete(r.cache, id)
	}
	r.cacheMu.Unlock()

	r.logger.Info("entry entities removed", "entry_id", entryID, "count", len(ids))
	return nil
}

// SetState writes an entity's state and publishes a state_changed event.
//
// UpdatedAt always advances; ChangedAt only advances when the state
// value differs from the previous one. Writing an identical value with
// identical attributes still publishes (subscribers that only care
// about value transitions compare ChangedAt).
func (r *Registry) SetState(ctx context.Context, id string, value string, attributes Attributes) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	newState := State{
		Value:      value,
		Attributes: attributes,
		UpdatedAt:  now,
		ChangedAt:  existing.State.ChangedAt,
	}
	if value != existing.State.Value {
		newState.ChangedAt = now
	}
	if newState.ChangedAt.IsZero() {
		newState.ChangedAt = now
	}

	if err := r.repo.UpdateState(ctx, id, newState); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	var snapshot *Entity
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.State = newState
		updated.State.Attributes = deepCopyAttributes(attributes)
		r.cache[id] = updated
		snapshot = updated
	}
	r.cacheMu.Unlock()

	if snapshot == nil {
		snapshot = existing
		snapshot.State = newState
	}

	r.publishStateChanged(snapshot, &existing.State, newState)

	r.logger.Debug("entity state set", "id", id, "state", value)
	return nil
}

// GetState returns the current state of an entity.
func (r *Registry) GetState(ctx context.Context, id string) (State, error) {
	e, err := r.Get(ctx, id)
	if err != nil {
		return State{}, err
	}
	return e.State, nil
}

// SetUnavailable marks an entity unavailable, preserving attributes.
// Used by integrations when a device stops responding.
func (r *Registry) SetUnavailable(ctx context.Context, id string) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.State.Value == StateUnavailable {
		return nil
	}
	return r.SetState(ctx, id, StateUnavailable, existing.State.Attributes)
}

// Count returns the number of cached entities.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalEntities int
	ByDomain      map[Domain]int
	ByPlatform    map[string]int
	Unavailable   int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalEntities: len(r.cache),
		ByDomain:      make(map[Domain]int),
		ByPlatform:    make(map[string]int),
	}

	for _, e := range r.cache {
		stats.ByDomain[e.Domain]++
		stats.ByPlatform[e.Platform]++
		if !e.State.IsAvailable() {
			stats.Unavailable++
		}
	}

	return stats
}

// publishStateChanged emits a state_changed event on the bus.
func (r *Registry) publishStateChanged(e *Entity, old *State, current State) {
	if r.events == nil {
		return
	}

	ev := bus.StateChanged{
		EntityID: e.ID,
		Domain:   string(e.Domain),
		Platform: e.Platform,
		NewState: stateSnapshot(current),
	}
	if e.AreaID != nil {
		ev.AreaID = *e.AreaID
	}
	if old != nil {
		ev.OldState = stateSnapshot(*old)
	}
	r.events.PublishStateChanged(ev)
}

func stateSnapshot(s State) *bus.StateSnapshot {
	return &bus.StateSnapshot{
		Value:      s.Value,
		Attributes: s.Attributes,
		UpdatedAt:  s.UpdatedAt,
		ChangedAt:  s.ChangedAt,
	}
}
