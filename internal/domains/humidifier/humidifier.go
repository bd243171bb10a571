// Package humidifier defines the humidifier entity domain: device
// classes, actions, attribute keys, and the domain services
// (turn_on, turn_off, toggle, set_humidity, set_mode).
//
// Integrations implement Device for each humidifier entity and attach
// it to the Domain; service calls dispatch to devices by entity id.
package humidifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// DeviceClass distinguishes devices that add moisture from those that
// remove it. The control direction inverts between the two.
type DeviceClass string

// Device classes.
const (
	ClassHumidifier   DeviceClass = "humidifier"
	ClassDehumidifier DeviceClass = "dehumidifier"
)

// Action is what the device is doing right now.
type Action string

// Actions.
const (
	ActionOff         Action = "off"
	ActionIdle        Action = "idle"
	ActionHumidifying Action = "humidifying"
	ActionDrying      Action = "drying"
)

// Features is a bitmask of optional capabilities.
type Features int

// Feature flags.
const (
	SupportsModes Features = 1 << iota
)

// Humidity bounds applied when a device reports none of its own.
const (
	DefaultMinHumidity = 0.0
	DefaultMaxHumidity = 100.0
)

// Attribute keys used on humidifier entity states.
const (
	AttrHumidity        = "humidity"         // target
	AttrCurrentHumidity = "current_humidity" // measured
	AttrMinHumidity     = "min_humidity"
	AttrMaxHumidity     = "max_humidity"
	AttrMode            = "mode"
	AttrAvailableModes  = "available_modes"
	AttrAction          = "action"
	AttrDeviceClass     = "device_class"
)

// Device is a controllable humidifier implementation.
type Device interface {
	// EntityID returns the entity this device backs.
	EntityID() string

	// IsOn reports whether the device is switched on.
	IsOn() bool

	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error

	// SetHumidity sets the target. Callers clamp to [MinHumidity, MaxHumidity]
	// before invoking.
	SetHumidity(ctx context.Context, target float64) error

	// SetMode switches the operating mode. Only called when the device
	// reports SupportsModes and the mode is in AvailableModes.
	SetMode(ctx context.Context, mode string) error

	Features() Features
	AvailableModes() []string
	MinHumidity() float64
	MaxHumidity() float64
}

// Domain dispatches humidifier services to attached devices.
//
// All public methods are thread-safe.
type Domain struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewDomain creates the humidifier domain dispatcher.
func NewDomain() *Domain {
	return &Domain{devices: make(map[string]Device)}
}

// Attach registers a device for its entity id, replacing any previous
// device for that id. Returns a detach function.
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

func (d *Domain) device(entityID string) (Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: no humidifier device for %s",
			entity.ErrEntityNotFound, entityID)
	}
	return dev, nil
}

// RegisterServices registers the humidifier domain services.
func (d *Domain) RegisterServices(services *service.Registry) error {
	min, max := DefaultMinHumidity, DefaultMaxHumidity

	defs := []service.Definition{
		{
			Domain:      string(entity.DomainHumidifier),
			Service:     "turn_on",
			Description: "Switch a humidifier on",
			Handler:     d.forEach(Device.TurnOn),
		},
		{
			Domain:      string(entity.DomainHumidifier),
			Service:     "turn_off",
			Description: "Switch a humidifier off",
			Handler:     d.forEach(Device.TurnOff),
		},
		{
			Domain:      string(entity.DomainHumidifier),
			Service:     "toggle",
			Description: "Toggle a humidifier",
			Handler: d.forEach(func(dev Device, ctx context.Context) error {
				if dev.IsOn() {
					return dev.TurnOff(ctx)
				}
				return dev.TurnOn(ctx)
			}),
		},
		{
			Domain:      string(entity.DomainHumidifier),
			Service:     "set_humidity",
			Description: "Set the target humidity",
			Fields: map[string]service.Field{
				AttrHumidity: {Type: service.FieldNumber, Required: true, Min: &min, Max: &max},
			},
			Handler: d.setHumidity,
		},
		{
			Domain:      string(entity.DomainHumidifier),
			Service:     "set_mode",
			Description: "Set the operating mode",
			Fields: map[string]service.Field{
				AttrMode: {Type: service.FieldString, Required: true},
			},
			Handler: d.setMode,
		},
	}

	for _, def := range defs {
		if err := services.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// forEach adapts a per-device action into a service handler over the
// call's entity ids.
func (d *Domain) forEach(fn func(dev Device, ctx context.Context) error) service.Handler {
	return func(ctx context.Context, call service.Call) error {
		for _, id := range call.EntityIDs {
			dev, err := d.device(id)
			if err != nil {
				return err
			}
			if err := fn(dev, ctx); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
		}
		return nil
	}
}

func (d *Domain) setHumidity(ctx context.Context, call service.Call) error {
	target, ok := toFloat(call.Data[AttrHumidity])
	if !ok {
		return fmt.Errorf("%w: humidity must be numeric", service.ErrInvalidCall)
	}

	for _, id := range call.EntityIDs {
		dev, err := d.device(id)
		if err != nil {
			return err
		}
		clamped := clamp(target, dev.MinHumidity(), dev.MaxHumidity())
		if err := dev.SetHumidity(ctx, clamped); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	return nil
}

func (d *Domain) setMode(ctx context.Context, call service.Call) error {
	mode, _ := call.Data[AttrMode].(string)

	for _, id := range call.EntityIDs {
		dev, err := d.device(id)
		if err != nil {
			return err
		}
		if dev.Features()&SupportsModes == 0 {
			return fmt.Errorf("%w: %s does not support modes", service.ErrInvalidCall, id)
		}
		if !contains(dev.AvailableModes(), mode) {
			return fmt.Errorf("%w: %s has no mode %q", service.ErrInvalidCall, id, mode)
		}
		if err := dev.SetMode(ctx, mode); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	return nil
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
