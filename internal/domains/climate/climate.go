// Package climate defines the climate entity domain: HVAC modes,
// presets, attribute keys, and the domain services.
package climate

import (
	"context"
	"fmt"
	"sync"

	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// HVACMode is the requested operating mode of a climate entity.
type HVACMode string

// HVAC modes.
const (
	ModeOff  HVACMode = "off"
	ModeHeat HVACMode = "heat"
	ModeAuto HVACMode = "auto"
)

// Preset names. Integrations may add their own.
const (
	PresetNone      = "none"
	PresetQuickVeto = "quick_veto"
	PresetHoliday   = "holiday"
)

// Attribute keys used on climate entity states.
const (
	AttrTemperature        = "temperature" // target
	AttrCurrentTemperature = "current_temperature"
	AttrHVACMode           = "hvac_mode"
	AttrHVACModes          = "hvac_modes"
	AttrPreset             = "preset_mode"
	AttrPresets            = "preset_modes"
)

// Device is a controllable climate implementation.
type Device interface {
	EntityID() string
	SetTemperature(ctx context.Context, target float64) error
	SetHVACMode(ctx context.Context, mode HVACMode) error
	SetPreset(ctx context.Context, preset string) error
	HVACModes() []HVACMode
	Presets() []string
}

// Domain dispatches climate services to attached devices.
type Domain struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewDomain creates the climate domain dispatcher.
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

func (d *Domain) device(entityID string) (Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: no climate device for %s",
			entity.ErrEntityNotFound, entityID)
	}
	return dev, nil
}

// RegisterServices registers the climate domain services.
func (d *Domain) RegisterServices(services *service.Registry) error {
	defs := []service.Definition{
		{
			Domain:      string(entity.DomainClimate),
			Service:     "set_temperature",
			Description: "Set the target temperature",
			Fields: map[string]service.Field{
				AttrTemperature: {Type: service.FieldNumber, Required: true},
			},
			Handler: func(ctx context.Context, call service.Call) error {
				target, ok := toFloat(call.Data[AttrTemperature])
				if !ok {
					return fmt.Errorf("%w: temperature must be numeric", service.ErrInvalidCall)
				}
				return d.forEach(call.EntityIDs, func(dev Device) error {
					return dev.SetTemperature(ctx, target)
				})
			},
		},
		{
			Domain:      string(entity.DomainClimate),
			Service:     "set_hvac_mode",
			Description: "Set the HVAC operating mode",
			Fields: map[string]service.Field{
				AttrHVACMode: {Type: service.FieldString, Required: true,
					Values: []string{string(ModeOff), string(ModeHeat), string(ModeAuto)}},
			},
			Handler: func(ctx context.Context, call service.Call) error {
				mode := HVACMode(call.Data[AttrHVACMode].(string))
				return d.forEach(call.EntityIDs, func(dev Device) error {
					if !containsMode(dev.HVACModes(), mode) {
						return fmt.Errorf("%w: %s has no hvac mode %q",
							service.ErrInvalidCall, dev.EntityID(), mode)
					}
					return dev.SetHVACMode(ctx, mode)
				})
			},
		},
		{
			Domain:      string(entity.DomainClimate),
			Service:     "set_preset_mode",
			Description: "Activate a preset",
			Fields: map[string]service.Field{
				AttrPreset: {Type: service.FieldString, Required: true},
			},
			Handler: func(ctx context.Context, call service.Call) error {
				preset, _ := call.Data[AttrPreset].(string)
				return d.forEach(call.EntityIDs, func(dev Device) error {
					if preset != PresetNone && !contains(dev.Presets(), preset) {
						return fmt.Errorf("%w: %s has no preset %q",
							service.ErrInvalidCall, dev.EntityID(), preset)
					}
					return dev.SetPreset(ctx, preset)
				})
			},
		},
	}

	for _, def := range defs {
		if err := services.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (d *Domain) forEach(ids []string, fn func(Device) error) error {
	for _, id := range ids {
		dev, err := d.device(id)
		if err != nil {
			return err
		}
		if err := fn(dev); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func containsMode(list []HVACMode, m HVACMode) bool {
	for _, item := range list {
		if item == m {
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
