package hardware

import (
	"context"
	"sort"
	"sync"
)

// Info describes one piece of attached hardware.
type Info struct {
	EntryID         string `json:"entry_id"`
	Name            string `json:"name"`
	Model           string `json:"model,omitempty"`
	Port            string `json:"port,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}

// Owner is an integration that holds open a piece of hardware. Owners
// of a serial port must be able to release it for the duration of a
// firmware flash and take it back afterwards.
type Owner interface {
	Info() Info

	// Suspend releases the hardware (closes the port). Returning an
	// error blocks the flash with ErrPortBusy.
	Suspend(ctx context.Context) error

	// Resume re-opens the hardware after a flash, successful or not.
	Resume(ctx context.Context) error
}

// Dispatcher tracks registered hardware owners and notifies subscribers
// when the set changes.
//
// All methods are thread-safe. Subscribers are invoked synchronously on
// the registering goroutine and must not block.
type Dispatcher struct {
	mu          sync.Mutex
	owners      map[string]Owner // by entry id
	subscribers map[int]func()
	nextID      int
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		owners:      make(map[string]Owner),
		subscribers: make(map[int]func()),
	}
}

// Register adds an owner and returns a deregister function. Both
// registration and deregistration notify subscribers.
func (d *Dispatcher) Register(owner Owner) func() {
	entryID := owner.Info().EntryID

	d.mu.Lock()
	d.owners[entryID] = owner
	fns := d.snapshotSubscribers()
	d.mu.Unlock()
	notify(fns)

	return func() {
		d.mu.Lock()
		if d.owners[entryID] == owner {
			delete(d.owners, entryID)
		}
		fns := d.snapshotSubscribers()
		d.mu.Unlock()
		notify(fns)
	}
}

// Subscribe registers a change callback and returns an unsubscribe
// function.
func (d *Dispatcher) Subscribe(fn func()) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subscribers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subscribers, id)
		d.mu.Unlock()
	}
}

// Snapshot returns the current hardware list sorted by entry id.
func (d *Dispatcher) Snapshot() []Info {
	d.mu.Lock()
	infos := make([]Info, 0, len(d.owners))
	for _, owner := range d.owners {
		infos = append(infos, owner.Info())
	}
	d.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].EntryID < infos[j].EntryID })
	return infos
}

// OwnersOfPort returns the owners currently bound to a serial port.
func (d *Dispatcher) OwnersOfPort(port string) []Owner {
	d.mu.Lock()
	defer d.mu.Unlock()

	var owners []Owner
	for _, owner := range d.owners {
		if owner.Info().Port == port {
			owners = append(owners, owner)
		}
	}
	return owners
}

// snapshotSubscribers copies the subscriber set; callers hold d.mu.
func (d *Dispatcher) snapshotSubscribers() []func() {
	fns := make([]func(), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
