package update

import (
	"context"
	"errors"
	"testing"

	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

type fakeUpdate struct {
	id        string
	installed bool
	fail      error
}

func (f *fakeUpdate) EntityID() string { return f.id }

func (f *fakeUpdate) Install(context.Context) error {
	if f.fail != nil {
		return f.fail
	}
	f.installed = true
	return nil
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		name      string
		installed string
		latest    string
		want      string
	}{
		{"update available", "1.0.0", "1.1.0", entity.StateOn},
		{"up to date", "1.1.0", "1.1.0", entity.StateOff},
		{"installed unknown", "", "1.1.0", entity.StateUnknown},
		{"latest unknown", "1.0.0", "", entity.StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateFor(tt.installed, tt.latest); got != tt.want {
				t.Errorf("StateFor(%q, %q) = %q, want %q",
					tt.installed, tt.latest, got, tt.want)
			}
		})
	}
}

func TestInstall(t *testing.T) {
	domain := NewDomain()
	services := service.NewRegistry(nil)
	if err := domain.RegisterServices(services); err != nil {
		t.Fatalf("RegisterServices() error = %v", err)
	}

	dev := &fakeUpdate{id: "update.zigbee_radio"}
	domain.Attach(dev)

	err := services.Call(context.Background(), service.Call{
		Domain:    "update",
		Service:   "install",
		EntityIDs: []string{"update.zigbee_radio"},
	})
	if err != nil {
		t.Fatalf("install error = %v", err)
	}
	if !dev.installed {
		t.Error("Install not invoked")
	}
}

func TestInstall_DeviceError(t *testing.T) {
	domain := NewDomain()
	services := service.NewRegistry(nil)
	if err := domain.RegisterServices(services); err != nil {
		t.Fatalf("RegisterServices() error = %v", err)
	}

	failure := errors.New("flash verify failed")
	dev := &fakeUpdate{id: "update.zigbee_radio", fail: failure}
	domain.Attach(dev)

	err := services.Call(context.Background(), service.Call{
		Domain:    "update",
		Service:   "install",
		EntityIDs: []string{"update.zigbee_radio"},
	})
	if !errors.Is(err, failure) {
		t.Errorf("error = %v, want wrapped device failure", err)
	}
}

func TestInstall_UnknownDevice(t *testing.T) {
	domain := NewDomain()
	services := service.NewRegistry(nil)
	if err := domain.RegisterServices(services); err != nil {
		t.Fatalf("RegisterServices() error = %v", err)
	}

	err := services.Call(context.Background(), service.Call{
		Domain:    "update",
		Service:   "install",
		EntityIDs: []string{"update.missing"},
	})
	if !errors.Is(err, entity.ErrEntityNotFound) {
		t.Errorf("error = %v, want ErrEntityNotFound", err)
	}
}
