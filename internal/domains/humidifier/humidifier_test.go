package humidifier

import (
	"context"
	"errors"
	"testing"

	"github.com/hearthd/hearth-core/internal/service"
)

// fakeDevice records calls for assertions.
type fakeDevice struct {
	id       string
	on       bool
	target   float64
	mode     string
	features Features
	modes    []string
	min, max float64
}

func newFakeDevice(id string) *fakeDevice {
	return &fakeDevice{id: id, min: DefaultMinHumidity, max: DefaultMaxHumidity}
}

func (f *fakeDevice) EntityID() string { return f.id }
func (f *fakeDevice) IsOn() bool       { return f.on }

func (f *fakeDevice) TurnOn(context.Context) error  { f.on = true; return nil }
func (f *fakeDevice) TurnOff(context.Context) error { f.on = false; return nil }

func (f *fakeDevice) SetHumidity(_ context.Context, target float64) error {
	f.target = target
	return nil
}

func (f *fakeDevice) SetMode(_ context.Context, mode string) error {
	f.mode = mode
	return nil
}

func (f *fakeDevice) Features() Features       { return f.features }
func (f *fakeDevice) AvailableModes() []string { return f.modes }
func (f *fakeDevice) MinHumidity() float64     { return f.min }
func (f *fakeDevice) MaxHumidity() float64     { return f.max }

func setup(t *testing.T) (*Domain, *service.Registry, *fakeDevice) {
	t.Helper()
	domain := NewDomain()
	services := service.NewRegistry(nil)
	if err := domain.RegisterServices(services); err != nil {
		t.Fatalf("RegisterServices() error = %v", err)
	}
	dev := newFakeDevice("humidifier.bedroom")
	domain.Attach(dev)
	return domain, services, dev
}

func TestTurnOnOffToggle(t *testing.T) {
	_, services, dev := setup(t)
	ctx := context.Background()
	target := []string{"humidifier.bedroom"}

	call := func(svc string) error {
		return services.Call(ctx, service.Call{
			Domain: "humidifier", Service: svc, EntityIDs: target,
		})
	}

	if err := call("turn_on"); err != nil {
		t.Fatalf("turn_on error = %v", err)
	}
	if !dev.on {
		t.Error("device not on after turn_on")
	}

	if err := call("toggle"); err != nil {
		t.Fatalf("toggle error = %v", err)
	}
	if dev.on {
		t.Error("device on after toggle from on")
	}

	if err := call("turn_off"); err != nil {
		t.Fatalf("turn_off error = %v", err)
	}
	if dev.on {
		t.Error("device on after turn_off")
	}
}

func TestSetHumidityClamped(t *testing.T) {
	_, services, dev := setup(t)
	dev.min, dev.max = 30, 70

	err := services.Call(context.Background(), service.Call{
		Domain: "humidifier", Service: "set_humidity",
		Data:      map[string]any{AttrHumidity: 90.0},
		EntityIDs: []string{"humidifier.bedroom"},
	})
	if err != nil {
		t.Fatalf("set_humidity error = %v", err)
	}
	if dev.target != 70 {
		t.Errorf("target = %v, want clamped 70", dev.target)
	}
}

func TestSetHumidityOutOfSchemaRange(t *testing.T) {
	_, services, _ := setup(t)

	err := services.Call(context.Background(), service.Call{
		Domain: "humidifier", Service: "set_humidity",
		Data:      map[string]any{AttrHumidity: 150.0},
		EntityIDs: []string{"humidifier.bedroom"},
	})
	if !errors.Is(err, service.ErrInvalidCall) {
		t.Errorf("error = %v, want ErrInvalidCall", err)
	}
}

func TestSetMode(t *testing.T) {
	_, services, dev := setup(t)
	dev.features = SupportsModes
	dev.modes = []string{"normal", "away"}

	err := services.Call(context.Background(), service.Call{
		Domain: "humidifier", Service: "set_mode",
		Data:      map[string]any{AttrMode: "away"},
		EntityIDs: []string{"humidifier.bedroom"},
	})
	if err != nil {
		t.Fatalf("set_mode error = %v", err)
	}
	if dev.mode != "away" {
		t.Errorf("mode = %q, want away", dev.mode)
	}
}

func TestSetModeRejections(t *testing.T) {
	_, services, dev := setup(t)

	// No mode support at all
	err := services.Call(context.Background(), service.Call{
		Domain: "humidifier", Service: "set_mode",
		Data:      map[string]any{AttrMode: "away"},
		EntityIDs: []string{"humidifier.bedroom"},
	})
	if !errors.Is(err, service.ErrInvalidCall) {
		t.Errorf("error = %v, want ErrInvalidCall for unsupported modes", err)
	}

	// Supported, but unknown mode
	dev.features = SupportsModes
	dev.modes = []string{"normal"}
	err = services.Call(context.Background(), service.Call{
		Domain: "humidifier", Service: "set_mode",
		Data:      map[string]any{AttrMode: "turbo"},
		EntityIDs: []string{"humidifier.bedroom"},
	})
	if !errors.Is(err, service.ErrInvalidCall) {
		t.Errorf("error = %v, want ErrInvalidCall for unknown mode", err)
	}
	if dev.mode != "" {
		t.Errorf("mode = %q, want unchanged", dev.mode)
	}
}

func TestDetach(t *testing.T) {
	domain, services, dev := setup(t)
	detach := domain.Attach(dev)
	detach()
	detach() // idempotent

	err := services.Call(context.Background(), service.Call{
		Domain: "humidifier", Service: "turn_on",
		EntityIDs: []string{"humidifier.bedroom"},
	})
	if err == nil {
		t.Error("turn_on after detach should fail")
	}
}
