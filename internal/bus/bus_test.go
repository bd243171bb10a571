package bus

import (
	"testing"
	"time"
)

// wait blocks until the publish completes or the test times out.
func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for publish to complete")
	}
}

func TestPublishStateChanged(t *testing.T) {
	b := New()

	var got StateChanged
	unsub := b.SubscribeStateChanged(func(ev StateChanged) {
		got = ev
	})
	defer unsub()

	ev := StateChanged{
		EntityID: "sensor.hallway_temp",
		Domain:   "sensor",
		Platform: "esphome",
		NewState: &StateSnapshot{Value: "21.5"},
	}
	wait(t, b.PublishStateChanged(ev))

	if got.EntityID != "sensor.hallway_temp" {
		t.Errorf("EntityID = %q, want %q", got.EntityID, "sensor.hallway_temp")
	}
	if got.NewState == nil || got.NewState.Value != "21.5" {
		t.Errorf("NewState = %+v, want value 21.5", got.NewState)
	}
	if got.OldState != nil {
		t.Errorf("OldState = %+v, want nil for first write", got.OldState)
	}
}

func TestPublishServiceCalled(t *testing.T) {
	b := New()

	var got ServiceCalled
	unsub := b.SubscribeServiceCalled(func(ev ServiceCalled) {
		got = ev
	})
	defer unsub()

	wait(t, b.PublishServiceCalled(ServiceCalled{
		Domain:    "switch",
		Service:   "turn_on",
		EntityIDs: []string{"switch.kitchen_light"},
	}))

	if got.Domain != "switch" || got.Service != "turn_on" {
		t.Errorf("got %s.%s, want switch.turn_on", got.Domain, got.Service)
	}
	if len(got.EntityIDs) != 1 || got.EntityIDs[0] != "switch.kitchen_light" {
		t.Errorf("EntityIDs = %v, want [switch.kitchen_light]", got.EntityIDs)
	}
}

func TestSubscribeEntryEvents(t *testing.T) {
	b := New()

	type received struct {
		ev       EntryEvent
		unloaded bool
	}
	var events []received
	unsub := b.SubscribeEntryEvents(func(ev EntryEvent, unloaded bool) {
		events = append(events, received{ev, unloaded})
	})

	wait(t, b.PublishEntrySetup(EntryEvent{EntryID: "e1", Domain: "hygrostat"}))
	wait(t, b.PublishEntryUnloaded(EntryEvent{EntryID: "e1", Domain: "hygrostat"}))

	if len(events) != 2 {
		t.Fatalf("received %d events, want 2", len(events))
	}
	if events[0].unloaded {
		t.Error("first event should be setup, got unloaded")
	}
	if !events[1].unloaded {
		t.Error("second event should be unloaded")
	}

	// After unsubscribe nothing more is delivered.
	unsub()
	wait(t, b.PublishEntrySetup(EntryEvent{EntryID: "e2", Domain: "hygrostat"}))
	if len(events) != 2 {
		t.Errorf("received %d events after unsubscribe, want 2", len(events))
	}
}

func TestPublishHardwareChanged(t *testing.T) {
	b := New()

	var got HardwareChanged
	unsub := b.SubscribeHardwareChanged(func(ev HardwareChanged) {
		got = ev
	})
	defer unsub()

	wait(t, b.PublishHardwareChanged(HardwareChanged{EntryID: "e1", Removed: true}))

	if got.EntryID != "e1" || !got.Removed {
		t.Errorf("got %+v, want EntryID e1 Removed true", got)
	}
}

func TestSubscribeRaw(t *testing.T) {
	b := New()

	var topic string
	unsub := b.Subscribe(TopicStateChanged, func(tp string, _ interface{}) {
		topic = tp
	})
	defer unsub()

	wait(t, b.PublishStateChanged(StateChanged{EntityID: "sensor.hallway_temp"}))

	if topic != TopicStateChanged {
		t.Errorf("topic = %q, want %q", topic, TopicStateChanged)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	count := 0
	unsub := b.SubscribeStateChanged(func(StateChanged) { count++ })

	wait(t, b.PublishStateChanged(StateChanged{EntityID: "sensor.a"}))
	unsub()
	wait(t, b.PublishStateChanged(StateChanged{EntityID: "sensor.b"}))

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}
