package climate

import (
	"context"
	"errors"
	"testing"

	"github.com/hearthd/hearth-core/internal/service"
)

// fakeDevice records calls for assertions.
type fakeDevice struct {
	id      string
	target  float64
	mode    HVACMode
	preset  string
	modes   []HVACMode
	presets []string
}

func newFakeDevice(id string) *fakeDevice {
	return &fakeDevice{
		id:      id,
		modes:   []HVACMode{ModeOff, ModeHeat, ModeAuto},
		presets: []string{PresetQuickVeto},
	}
}

func (f *fakeDevice) EntityID() string { return f.id }

func (f *fakeDevice) SetTemperature(_ context.Context, target float64) error {
	f.target = target
	return nil
}

func (f *fakeDevice) SetHVACMode(_ context.Context, mode HVACMode) error {
	f.mode = mode
	return nil
}

func (f *fakeDevice) SetPreset(_ context.Context, preset string) error {
	f.preset = preset
	return nil
}

func (f *fakeDevice) HVACModes() []HVACMode { return f.modes }
func (f *fakeDevice) Presets() []string     { return f.presets }

func setup(t *testing.T) (*service.Registry, *fakeDevice) {
	t.Helper()
	domain := NewDomain()
	services := service.NewRegistry(nil)
	if err := domain.RegisterServices(services); err != nil {
		t.Fatalf("RegisterServices() error = %v", err)
	}
	dev := newFakeDevice("climate.living_room")
	domain.Attach(dev)
	return services, dev
}

func TestSetTemperature(t *testing.T) {
	services, dev := setup(t)

	err := services.Call(context.Background(), service.Call{
		Domain:    "climate",
		Service:   "set_temperature",
		Data:      map[string]any{AttrTemperature: 21.5},
		EntityIDs: []string{"climate.living_room"},
	})
	if err != nil {
		t.Fatalf("set_temperature error = %v", err)
	}
	if dev.target != 21.5 {
		t.Errorf("target = %v, want 21.5", dev.target)
	}
}

func TestSetHVACMode(t *testing.T) {
	services, dev := setup(t)

	err := services.Call(context.Background(), service.Call{
		Domain:    "climate",
		Service:   "set_hvac_mode",
		Data:      map[string]any{AttrHVACMode: "heat"},
		EntityIDs: []string{"climate.living_room"},
	})
	if err != nil {
		t.Fatalf("set_hvac_mode error = %v", err)
	}
	if dev.mode != ModeHeat {
		t.Errorf("mode = %q, want heat", dev.mode)
	}
}

func TestSetHVACMode_Unsupported(t *testing.T) {
	services, dev := setup(t)
	dev.modes = []HVACMode{ModeOff} // heat not offered by this device

	err := services.Call(context.Background(), service.Call{
		Domain:    "climate",
		Service:   "set_hvac_mode",
		Data:      map[string]any{AttrHVACMode: "heat"},
		EntityIDs: []string{"climate.living_room"},
	})
	if !errors.Is(err, service.ErrInvalidCall) {
		t.Errorf("error = %v, want ErrInvalidCall", err)
	}
}

func TestSetHVACMode_BadValue(t *testing.T) {
	services, _ := setup(t)

	// "cool" is not in the field's allowed values; validation rejects it
	// before the handler runs.
	err := services.Call(context.Background(), service.Call{
		Domain:    "climate",
		Service:   "set_hvac_mode",
		Data:      map[string]any{AttrHVACMode: "cool"},
		EntityIDs: []string{"climate.living_room"},
	})
	if !errors.Is(err, service.ErrInvalidCall) {
		t.Errorf("error = %v, want ErrInvalidCall", err)
	}
}

func TestSetPreset(t *testing.T) {
	services, dev := setup(t)

	err := services.Call(context.Background(), service.Call{
		Domain:    "climate",
		Service:   "set_preset_mode",
		Data:      map[string]any{AttrPreset: PresetQuickVeto},
		EntityIDs: []string{"climate.living_room"},
	})
	if err != nil {
		t.Fatalf("set_preset_mode error = %v", err)
	}
	if dev.preset != PresetQuickVeto {
		t.Errorf("preset = %q, want %q", dev.preset, PresetQuickVeto)
	}
}

func TestSetPreset_NoneAlwaysAllowed(t *testing.T) {
	services, dev := setup(t)
	dev.presets = nil

	err := services.Call(context.Background(), service.Call{
		Domain:    "climate",
		Service:   "set_preset_mode",
		Data:      map[string]any{AttrPreset: PresetNone},
		EntityIDs: []string{"climate.living_room"},
	})
	if err != nil {
		t.Fatalf("set_preset_mode(none) error = %v", err)
	}
	if dev.preset != PresetNone {
		t.Errorf("preset = %q, want none", dev.preset)
	}
}

func TestSetPreset_Unknown(t *testing.T) {
	services, _ := setup(t)

	err := services.Call(context.Background(), service.Call{
		Domain:    "climate",
		Service:   "set_preset_mode",
		Data:      map[string]any{AttrPreset: "eco"},
		EntityIDs: []string{"climate.living_room"},
	})
	if !errors.Is(err, service.ErrInvalidCall) {
		t.Errorf("error = %v, want ErrInvalidCall", err)
	}
}
