// Package update defines the update entity domain used by firmware
// flows: attribute keys, state derivation, and the install service.
package update

import (
	"context"
	"fmt"
	"sync"

	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// Attribute keys used on update entity states.
const (
	AttrInstalledVersion = "installed_version"
	AttrLatestVersion    = "latest_version"
	AttrInProgress       = "in_progress"
	AttrProgress         = "progress"
	AttrReleaseNotes     = "release_notes"
)

// StateFor derives the update entity state value: "on" when the latest
// version differs from the installed one.
func StateFor(installed, latest string) string {
	if installed == "" || latest == "" {
		return entity.StateUnknown
	}
	if installed != latest {
		return entity.StateOn
	}
	return entity.StateOff
}

// Device is an installable update.
type Device interface {
	EntityID() string

	// Install applies the pending update. Long-running; honours ctx.
	Install(ctx context.Context) error
}

// Domain dispatches the update.install service.
type Domain struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewDomain creates the update domain dispatcher.
func NewDomain() *Domain {
	return &Domain{devices: make(map[string]Device)}
}

// Attach registers a device for its entity id and returns a detach function.
func (d *Domain) Attach(dev Device) func() {
	id := dev.EntityID()
	d.mu.Lock()
	d.devices[id] = dev
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		if d.devices[id] == dev {
			delete(d.devices, id)
		}
		d.mu.Unlock()
	}
}

// RegisterServices registers the update domain services.
func (d *Domain) RegisterServices(services *service.Registry) error {
	return services.Register(service.Definition{
		Domain:      string(entity.DomainUpdate),
		Service:     "install",
		Description: "Install a pending update",
		Handler: func(ctx context.Context, call service.Call) error {
			for _, id := range call.EntityIDs {
				d.mu.RLock()
				dev, ok := d.devices[id]
				d.mu.RUnlock()
				if !ok {
					return fmt.Errorf("%w: no update device for %s",
						entity.ErrEntityNotFound, id)
				}
				if err := dev.Install(ctx); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	})
}
