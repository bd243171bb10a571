package logbook

import (
	"context"
	"time"

	"github.com/hearthd/hearth-core/internal/bus"
)

// writeTimeout bounds each logbook insert.
const writeTimeout = 5 * time.Second

// Logger is the logging interface used by this package.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder turns bus events into logbook entries.
//
// Service calls and config-entry lifecycle transitions are recorded;
// raw state changes are left to the state history recorder.
type Recorder struct {
	repo   Repository
	logger Logger

	unsubs []func()
}

// NewRecorder creates a recorder writing to the given repository.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger. Must be called before Start.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Start subscribes to the bus.
func (r *Recorder) Start(events *bus.Bus) {
	r.unsubs = append(r.unsubs,
		events.SubscribeServiceCalled(r.onServiceCalled),
		events.SubscribeEntryEvents(r.onEntryEvent),
	)
}

// Stop unsubscribes from the bus.
func (r *Recorder) Stop() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *Recorder) onServiceCalled(ev bus.ServiceCalled) {
	entry := &Entry{
		Kind:   KindServiceCall,
		Domain: ev.Domain,
		Name:   ev.Domain + "." + ev.Service,
	}
	if len(ev.EntityIDs) == 1 {
		entry.EntityID = ev.EntityIDs[0]
	}

	detail := make(map[string]any)
	if len(ev.EntityIDs) > 0 {
		ids := make([]any, len(ev.EntityIDs))
		for i, id := range ev.EntityIDs {
			ids[i] = id
		}
		detail["entity_ids"] = ids
	}
	if len(ev.Data) > 0 {
		detail["data"] = ev.Data
	}
	if len(detail) > 0 {
		entry.Detail = detail
	}

	r.write(entry)
}

func (r *Recorder) onEntryEvent(ev bus.EntryEvent, unloaded bool) {
	kind := KindEntrySetup
	if unloaded {
		kind = KindEntryUnloaded
	}
	r.write(&Entry{
		Kind:   kind,
		Domain: ev.Domain,
		Name:   ev.Title,
		Detail: map[string]any{"entry_id": ev.EntryID},
	})
}

func (r *Recorder) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Warn("logbook write failed", "kind", entry.Kind, "error", err)
	}
}
