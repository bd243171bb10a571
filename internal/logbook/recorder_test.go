package logbook

import (
	"context"
	"testing"
	"time"

	"github.com/hearthd/hearth-core/internal/bus"
)

func publish(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscribers")
	}
}

func TestRecorderServiceCall(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	events := bus.New()

	rec := NewRecorder(repo)
	rec.Start(events)
	defer rec.Stop()

	publish(t, events.PublishServiceCalled(bus.ServiceCalled{
		Domain:    "climate",
		Service:   "set_temperature",
		Data:      map[string]any{"temperature": 21.5},
		EntityIDs: []string{"climate.main_floor"},
	}))

	result, err := repo.List(context.Background(), Filter{Kind: KindServiceCall})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}
	e := result.Entries[0]
	if e.Name != "climate.set_temperature" || e.Domain != "climate" {
		t.Errorf("entry = %+v", e)
	}
	if e.EntityID != "climate.main_floor" {
		t.Errorf("EntityID = %q (single target goes in the column)", e.EntityID)
	}
	data, ok := e.Detail["data"].(map[string]any)
	if !ok || data["temperature"] != 21.5 {
		t.Errorf("detail = %v", e.Detail)
	}
}

func TestRecorderEntryLifecycle(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	events := bus.New()

	rec := NewRecorder(repo)
	rec.Start(events)
	defer rec.Stop()

	ev := bus.EntryEvent{EntryID: "entry-1", Domain: "olarm", Title: "Olarm Account"}
	publish(t, events.PublishEntrySetup(ev))
	publish(t, events.PublishEntryUnloaded(ev))

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("Total = %d, want 2", result.Total)
	}
	if result.Entries[0].Kind != KindEntryUnloaded || result.Entries[1].Kind != KindEntrySetup {
		t.Errorf("kinds = %s, %s", result.Entries[0].Kind, result.Entries[1].Kind)
	}
	if result.Entries[0].Detail["entry_id"] != "entry-1" {
		t.Errorf("detail = %v", result.Entries[0].Detail)
	}
}

func TestRecorderStop(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	events := bus.New()

	rec := NewRecorder(repo)
	rec.Start(events)
	rec.Stop()

	publish(t, events.PublishServiceCalled(bus.ServiceCalled{Domain: "switch", Service: "turn_on"}))

	result, _ := repo.List(context.Background(), Filter{})
	if result.Total != 0 {
		t.Errorf("entries after Stop = %d, want 0", result.Total)
	}
}
