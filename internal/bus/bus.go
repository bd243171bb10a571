// Package bus provides the in-process event bus for Hearth Core.
//
// Every cross-component notification rides on it: entity state changes,
// service calls, config-entry lifecycle transitions, and hardware
// availability changes. The bus is a thin typed facade over
// juju/pubsub's SimpleHub: publishers never block on subscribers, and
// each subscriber receives events in publication order.
package bus

import (
	"time"

	"github.com/juju/pubsub/v2"
)

// Topic names. Subscribers may also use Subscribe with these directly.
const (
	TopicStateChanged  = "state_changed"
	TopicServiceCalled = "service_called"
	TopicEntrySetup    = "entry_setup"
	TopicEntryUnloaded = "entry_unloaded"
	TopicHardware      = "hardware_changed"
)

// StateSnapshot is a point-in-time view of an entity state carried in
// events. Attributes are shared read-only; subscribers must not mutate.
type StateSnapshot struct {
	Value      string
	Attributes map[string]any
	UpdatedAt  time.Time
	ChangedAt  time.Time
}

// StateChanged is published whenever an entity state is written.
// OldState is nil for the first write after an entity is added.
type StateChanged struct {
	EntityID string
	Domain   string
	Platform string
	AreaID   string
	OldState *StateSnapshot
	NewState *StateSnapshot
}

// ServiceCalled is published after a service call has been validated
// and dispatched.
type ServiceCalled struct {
	Domain    string
	Service   string
	Data      map[string]any
	EntityIDs []string
}

// EntryEvent is published on config-entry setup and unload.
type EntryEvent struct {
	EntryID string
	Domain  string
	Title   string
}

// HardwareChanged is published when hardware info providers come or go.
type HardwareChanged struct {
	EntryID string
	Removed bool
}

// Bus wraps a pubsub SimpleHub with typed publish/subscribe helpers.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	hub *pubsub.SimpleHub
}

// New creates an event bus.
func New() *Bus {
	return &Bus{hub: pubsub.NewSimpleHub(nil)}
}

// Subscribe registers a raw handler for a topic and returns an
// unsubscribe function. Prefer the typed helpers below.
func (b *Bus) Subscribe(topic string, handler func(topic string, data interface{})) func() {
	return b.hub.Subscribe(topic, handler)
}

// PublishStateChanged publishes a state change event.
// The returned channel closes once all subscribers have been notified;
// callers normally ignore it.
func (b *Bus) PublishStateChanged(ev StateChanged) <-chan struct{} {
	return pubsub.Wait(b.hub.Publish(TopicStateChanged, ev))
}

// SubscribeStateChanged registers a typed state-change handler.
func (b *Bus) SubscribeStateChanged(handler func(StateChanged)) func() {
	return b.hub.Subscribe(TopicStateChanged, func(_ string, data interface{}) {
		if ev, ok := data.(StateChanged); ok {
			handler(ev)
		}
	})
}

// PublishServiceCalled publishes a service-call event.
func (b *Bus) PublishServiceCalled(ev ServiceCalled) <-chan struct{} {
	return pubsub.Wait(b.hub.Publish(TopicServiceCalled, ev))
}

// SubscribeServiceCalled registers a typed service-call handler.
func (b *Bus) SubscribeServiceCalled(handler func(ServiceCalled)) func() {
	return b.hub.Subscribe(TopicServiceCalled, func(_ string, data interface{}) {
		if ev, ok := data.(ServiceCalled); ok {
			handler(ev)
		}
	})
}

// PublishEntrySetup publishes an entry-setup event.
func (b *Bus) PublishEntrySetup(ev EntryEvent) <-chan struct{} {
	return pubsub.Wait(b.hub.Publish(TopicEntrySetup, ev))
}

// PublishEntryUnloaded publishes an entry-unloaded event.
func (b *Bus) PublishEntryUnloaded(ev EntryEvent) <-chan struct{} {
	return pubsub.Wait(b.hub.Publish(TopicEntryUnloaded, ev))
}

// SubscribeEntryEvents registers a handler for both setup and unload.
// The unloaded flag distinguishes the two.
func (b *Bus) SubscribeEntryEvents(handler func(ev EntryEvent, unloaded bool)) func() {
	unsubSetup := b.hub.Subscribe(TopicEntrySetup, func(_ string, data interface{}) {
		if ev, ok := data.(EntryEvent); ok {
			handler(ev, false)
		}
	})
	unsubUnload := b.hub.Subscribe(TopicEntryUnloaded, func(_ string, data interface{}) {
		if ev, ok := data.(EntryEvent); ok {
			handler(ev, true)
		}
	})
	return func() {
		unsubSetup()
		unsubUnload()
	}
}

// PublishHardwareChanged publishes a hardware availability event.
func (b *Bus) PublishHardwareChanged(ev HardwareChanged) <-chan struct{} {
	return pubsub.Wait(b.hub.Publish(TopicHardware, ev))
}

// SubscribeHardwareChanged registers a typed hardware handler.
func (b *Bus) SubscribeHardwareChanged(handler func(HardwareChanged)) func() {
	return b.hub.Subscribe(TopicHardware, func(_ string, data interface{}) {
		if ev, ok := data.(HardwareChanged); ok {
			handler(ev)
		}
	})
}
