// Package alarm defines the alarm_control_panel entity domain: panel
// states, attribute keys, and the arm/disarm services.
package alarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// Panel states.
const (
	StateDisarmed   = "disarmed"
	StateArmedAway  = "armed_away"
	StateArmedHome  = "armed_home"
	StateArmedNight = "armed_night"
	StateTriggered  = "triggered"
)

// Attribute keys used on alarm entity states.
const (
	AttrAreaNumber = "area_number"
	AttrZones      = "zones"
)

// Device is a controllable alarm panel area.
type Device interface {
	EntityID() string
	ArmAway(ctx context.Context) error
	ArmHome(ctx context.Context) error
	ArmNight(ctx context.Context) error
	Disarm(ctx context.Context) error
}

// Domain dispatches alarm services to attached panel areas.
type Domain struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewDomain creates the alarm domain dispatcher.
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

// RegisterServices registers the alarm domain services.
func (d *Domain) RegisterServices(services *service.Registry) error {
	actions := map[string]func(Device, context.Context) error{
		"arm_away":  Device.ArmAway,
		"arm_home":  Device.ArmHome,
		"arm_night": Device.ArmNight,
		"disarm":    Device.Disarm,
	}

	for name, action := range actions {
		action := action
		def := service.Definition{
			Domain:  string(entity.DomainAlarmPanel),
			Service: name,
			Handler: func(ctx context.Context, call service.Call) error {
				for _, id := range call.EntityIDs {
					dev, err := d.device(id)
					if err != nil {
						return err
					}
					if err := action(dev, ctx); err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
				}
				return nil
			},
		}
		if err := services.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (d *Domain) device(entityID string) (Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: no alarm device for %s",
			entity.ErrEntityNotFound, entityID)
	}
	return dev, nil
}
