package configentry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/hearthd/hearth-core/internal/bus"
)

// Retry schedule for transient setup failures.
const (
	setupRetryDelay    = 5 * time.Second
	setupRetryMaxDelay = 5 * time.Minute
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler is an integration's lifecycle hooks for its config entries.
type Handler struct {
	// Domain names the integration ("esphome", "olarm").
	Domain string

	// Version is the current entry data schema version. Stored entries
	// with a lower version run through Migrate hooks before Setup.
	Version int

	// Setup configures the entry. Return ErrSetupRetry (possibly
	// wrapped) for transient failures; any other error marks the entry
	// setup_error.
	Setup func(ctx context.Context, entry *Entry) error

	// Unload tears the entry down. Optional.
	Unload func(ctx context.Context, entry *Entry) error

	// Migrate maps a from-version to a hook that upgrades entry data
	// to from-version+1. Missing hooks for needed versions mark the
	// entry migration_error.
	Migrate map[int]func(ctx context.Context, entry *Entry) error
}

// Manager owns config entry lifecycle: persistence, setup with retry,
// migration, unload, and removal.
//
// All public methods are thread-safe.
type Manager struct {
	repo   Repository
	events *bus.Bus
	clock  clock.Clock
	logger Logger

	mu       sync.Mutex
	handlers map[string]Handler
	retries  map[string]chan struct{} // per-entry retry stop channels

	// onRemove runs after an entry is deleted, for entity cleanup.
	onRemove func(ctx context.Context, entryID string) error

	stopped bool
	wg      sync.WaitGroup
}

// NewManager creates a config entry manager.
// events may be nil in tests; clk defaults to the wall clock.
func NewManager(repo Repository, events *bus.Bus, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Manager{
		repo:     repo,
		events:   events,
		clock:    clk,
		logger:   noopLogger{},
		handlers: make(map[string]Handler),
		retries:  make(map[string]chan struct{}),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetRemoveHook registers a callback that runs after entry removal,
// used to clean up the entry's entities.
func (m *Manager) SetRemoveHook(hook func(ctx context.Context, entryID string) error) {
	m.onRemove = hook
}

// RegisterHandler registers an integration's lifecycle hooks.
// A second registration for the same domain replaces the first.
func (m *Manager) RegisterHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[h.Domain] = h
}

// Add persists a new entry and sets it up immediately.
//
// If UniqueID is set and an entry with the same (domain, unique_id)
// already exists, returns ErrEntryExists and changes nothing.
func (m *Manager) Add(ctx context.Context, entry *Entry) error {
	handler, err := m.handler(entry.Domain)
	if err != nil {
		return err
	}

	if entry.UniqueID != nil {
		_, err := m.repo.GetByUniqueID(ctx, entry.Domain, *entry.UniqueID)
		if err == nil {
			return fmt.Errorf("%w: %s/%s", ErrEntryExists, entry.Domain, *entry.UniqueID)
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return err
		}
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Version == 0 {
		entry.Version = handler.Version
	}
	entry.State = StateNotLoaded

	if err := m.repo.Create(ctx, entry); err != nil {
		return err
	}

	m.logger.Info("config entry added", "id", entry.ID, "domain", entry.Domain)
	return m.Setup(ctx, entry.ID)
}

// Get retrieves an entry by id.
func (m *Manager) Get(ctx context.Context, id string) (*Entry, error) {
	return m.repo.GetByID(ctx, id)
}

// List retrieves all entries.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	return m.repo.List(ctx)
}

// ListByDomain retrieves all entries for one integration domain.
func (m *Manager) ListByDomain(ctx context.Context, domain string) ([]Entry, error) {
	return m.repo.ListByDomain(ctx, domain)
}

// SetupAll sets up every stored entry. Disabled entries are skipped;
// per-entry failures are recorded on the entry, not returned.
// Called once at startup.
func (m *Manager) SetupAll(ctx context.Context) error {
	entries, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	for i := range entries {
		entry := entries[i]
		if entry.Disabled {
			m.logger.Debug("skipping disabled entry", "id", entry.ID, "domain", entry.Domain)
			continue
		}
		if err := m.Setup(ctx, entry.ID); err != nil {
			m.logger.Warn("entry setup failed",
				"id", entry.ID, "domain", entry.Domain, "error", err)
		}
	}
	return nil
}

// Setup loads one entry: migrate if needed, then run the handler's
// Setup hook. A transient failure (ErrSetupRetry) parks the entry in
// setup_retry and schedules background retries with doubling backoff.
func (m *Manager) Setup(ctx context.Context, id string) error {
	entry, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if entry.Disabled {
		return nil
	}
	if entry.Loaded() {
		return nil
	}

	handler, err := m.handler(entry.Domain)
	if err != nil {
		reason := err.Error()
		_ = m.repo.UpdateState(ctx, id, StateSetupError, &reason)
		return err
	}

	if entry.Version < handler.Version {
		if err := m.migrate(ctx, handler, entry); err != nil {
			reason := err.Error()
			_ = m.repo.UpdateState(ctx, id, StateMigrationError, &reason)
			return err
		}
	}

	err = m.runSetup(ctx, handler, entry)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSetupRetry):
		reason := err.Error()
		if uerr := m.repo.UpdateState(ctx, id, StateSetupRetry, &reason); uerr != nil {
			return uerr
		}
		m.scheduleRetry(entry.ID, entry.Domain)
		return nil
	default:
		reason := err.Error()
		_ = m.repo.UpdateState(ctx, id, StateSetupError, &reason)
		return err
	}
}

// runSetup invokes the Setup hook and records success.
func (m *Manager) runSetup(ctx context.Context, handler Handler, entry *Entry) error {
	if err := handler.Setup(ctx, entry); err != nil {
		return err
	}

	if err := m.repo.UpdateState(ctx, entry.ID, StateLoaded, nil); err != nil {
		return err
	}

	if m.events != nil {
		m.events.PublishEntrySetup(bus.EntryEvent{
			EntryID: entry.ID,
			Domain:  entry.Domain,
			Title:   entry.Title,
		})
	}

	m.logger.Info("config entry loaded", "id", entry.ID, "domain", entry.Domain)
	return nil
}

// migrate upgrades entry data one version at a time and persists the
// result before setup continues.
func (m *Manager) migrate(ctx context.Context, handler Handler, entry *Entry) error {
	for entry.Version < handler.Version {
		hook, ok := handler.Migrate[entry.Version]
		if !ok {
			return fmt.Errorf("%w: no migration from version %d", ErrMigrationFailed, entry.Version)
		}
		if err := hook(ctx, entry); err != nil {
			return fmt.Errorf("%w: from version %d: %v", ErrMigrationFailed, entry.Version, err)
		}
		entry.Version++
	}

	if err := m.repo.Update(ctx, entry); err != nil {
		return fmt.Errorf("persisting migrated entry: %w", err)
	}

	m.logger.Info("config entry migrated",
		"id", entry.ID, "domain", entry.Domain, "version", entry.Version)
	return nil
}

// scheduleRetry starts a background retry loop for an entry, replacing
// any loop already running for it.
func (m *Manager) scheduleRetry(id, domain string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if stop, ok := m.retries[id]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	m.retries[id] = stop
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.clearRetry(id, stop)

		err := retry.Call(retry.CallArgs{
			Func: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()

				entry, err := m.repo.GetByID(ctx, id)
				if err != nil {
					return err
				}
				if entry.Disabled || entry.Loaded() {
					return nil
				}
				handler, err := m.handler(entry.Domain)
				if err != nil {
					return err
				}
				return m.runSetup(ctx, handler, entry)
			},
			IsFatalError: func(err error) bool {
				return !errors.Is(err, ErrSetupRetry)
			},
			NotifyFunc: func(err error, attempt int) {
				m.logger.Warn("entry setup retry",
					"id", id, "domain", domain, "attempt", attempt, "error", err)
			},
			Attempts:    -1,
			Delay:       setupRetryDelay,
			MaxDelay:    setupRetryMaxDelay,
			BackoffFunc: retry.DoubleDelay,
			Clock:       m.clock,
			Stop:        stop,
		})
		if err != nil && !retry.IsRetryStopped(err) {
			reason := err.Error()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = m.repo.UpdateState(ctx, id, StateSetupError, &reason)
			m.logger.Error("entry setup failed permanently",
				"id", id, "domain", domain, "error", err)
		}
	}()
}

func (m *Manager) clearRetry(id string, stop chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retries[id] == stop {
		delete(m.retries, id)
	}
}

// Unload tears down one loaded entry.
// Returns ErrNotLoaded if the entry is not currently loaded.
func (m *Manager) Unload(ctx context.Context, id string) error {
	entry, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !entry.Loaded() {
		return fmt.Errorf("%w: %s is %s", ErrNotLoaded, id, entry.State)
	}

	handler, err := m.handler(entry.Domain)
	if err != nil {
		return err
	}

	if handler.Unload != nil {
		if err := handler.Unload(ctx, entry); err != nil {
			reason := err.Error()
			_ = m.repo.UpdateState(ctx, id, StateFailedUnload, &reason)
			return fmt.Errorf("unloading entry %s: %w", id, err)
		}
	}

	if err := m.repo.UpdateState(ctx, id, StateNotLoaded, nil); err != nil {
		return err
	}

	if m.events != nil {
		m.events.PublishEntryUnloaded(bus.EntryEvent{
			EntryID: entry.ID,
			Domain:  entry.Domain,
			Title:   entry.Title,
		})
	}

	m.logger.Info("config entry unloaded", "id", id, "domain", entry.Domain)
	return nil
}

// Reload unloads then sets up an entry. Used after its data changes.
func (m *Manager) Reload(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	return m.Setup(ctx, id)
}

// Remove unloads (best effort) and deletes an entry, then runs the
// remove hook so the entry's entities are cleaned up.
func (m *Manager) Remove(ctx context.Context, id string) error {
	entry, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	m.cancelRetry(id)

	if entry.Loaded() {
		if err := m.Unload(ctx, id); err != nil {
			m.logger.Warn("unload before remove failed", "id", id, "error", err)
		}
	}

	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}

	if m.onRemove != nil {
		if err := m.onRemove(ctx, id); err != nil {
			m.logger.Error("entry remove hook failed", "id", id, "error", err)
		}
	}

	m.logger.Info("config entry removed", "id", id, "domain", entry.Domain)
	return nil
}

// SetDisabled enables or disables an entry. Disabling unloads it;
// enabling sets it up.
func (m *Manager) SetDisabled(ctx context.Context, id string, disabled bool) error {
	entry, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if entry.Disabled == disabled {
		return nil
	}

	if disabled {
		m.cancelRetry(id)
		if entry.Loaded() {
			if err := m.Unload(ctx, id); err != nil {
				return err
			}
		}
	}

	entry.Disabled = disabled
	if err := m.repo.Update(ctx, entry); err != nil {
		return err
	}

	if !disabled {
		return m.Setup(ctx, id)
	}
	return nil
}

// Stop cancels all background retries and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	for id, stop := range m.retries {
		close(stop)
		delete(m.retries, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) cancelRetry(id string) {
	m.mu.Lock()
	if stop, ok := m.retries[id]; ok {
		close(stop)
		delete(m.retries, id)
	}
	m.mu.Unlock()
}

func (m *Manager) handler(domain string) (Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handlers[domain]
	if !ok {
		return Handler{}, fmt.Errorf("%w: %s", ErrNoHandler, domain)
	}
	return h, nil
}
