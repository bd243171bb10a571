package vaillant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/hearthd/hearth-core/internal/configentry"
	"github.com/hearthd/hearth-core/internal/coordinator"
	"github.com/hearthd/hearth-core/internal/domains/climate"
	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// Domain is the integration's config entry domain.
const Domain = "vaillant"

const (
	// defaultPollInterval is how often the system snapshot is polled.
	defaultPollInterval = 2 * time.Minute

	// defaultVetoDuration is the quick veto length used when a target
	// temperature is set without an explicit duration.
	defaultVetoDuration = 3 * time.Hour
)

// Logger defines the logging interface used by the integration.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Integration wires Vaillant config entries to polling installations.
type Integration struct {
	registry *entity.Registry
	domain   *climate.Domain
	clock    clock.Clock
	logger   Logger

	mu      sync.Mutex
	running map[string]*installation // by entry id
}

// NewIntegration creates the Vaillant integration.
func NewIntegration(registry *entity.Registry, domain *climate.Domain, clk clock.Clock) *Integration {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Integration{
		registry: registry,
		domain:   domain,
		clock:    clk,
		logger:   noopLogger{},
		running:  make(map[string]*installation),
	}
}

// SetLogger sets the logger for the integration.
func (i *Integration) SetLogger(logger Logger) {
	i.logger = logger
}

// Handler returns the config entry lifecycle hooks.
func (i *Integration) Handler() configentry.Handler {
	return configentry.Handler{
		Domain:  Domain,
		Version: 1,
		Setup:   i.setup,
		Unload:  i.unload,
	}
}

func (i *Integration) setup(ctx context.Context, entry *configentry.Entry) error {
	creds := Credentials{}
	creds.Serial, _ = entry.Data["serial"].(string)
	creds.Username, _ = entry.Data["username"].(string)
	creds.Password, _ = entry.Data["password"].(string)
	baseURL, _ := entry.Data["base_url"].(string)
	if creds.Serial == "" || creds.Username == "" || creds.Password == "" || baseURL == "" {
		return fmt.Errorf("vaillant: entry %s: serial, username, password, and base_url are required", entry.ID)
	}

	prefix, _ := entry.Data["name"].(string)
	if prefix == "" {
		prefix = "vaillant"
	}

	interval := defaultPollInterval
	if s, ok := entry.Data["poll_interval"].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("vaillant: entry %s: invalid poll_interval: %w", entry.ID, err)
		}
		interval = d
	}

	client := NewClient(baseURL, creds)

	// Probe credentials; bad ones are a permanent setup failure.
	if _, err := client.System(ctx); err != nil {
		if errors.Is(err, ErrAuthFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", configentry.ErrSetupRetry, err)
	}

	inst := newInstallation(entry.ID, entity.Slugify(prefix), client, i.registry, i.domain, i.clock, i.logger)
	inst.coordinator = coordinator.New("vaillant", interval, client.System, i.clock)
	inst.removeListener = inst.coordinator.AddListener(inst.onSystem)

	if err := inst.coordinator.Start(ctx); err != nil {
		i.logger.Warn("initial vaillant refresh failed", "entry", entry.ID, "error", err)
	}

	i.mu.Lock()
	i.running[entry.ID] = inst
	i.mu.Unlock()

	i.logger.Info("vaillant installation attached",
		"entry", entry.ID, "serial", creds.Serial)
	return nil
}

func (i *Integration) unload(ctx context.Context, entry *configentry.Entry) error {
	i.mu.Lock()
	inst, ok := i.running[entry.ID]
	delete(i.running, entry.ID)
	i.mu.Unlock()

	if !ok {
		return nil
	}
	return inst.stop(ctx)
}

// RegisterServices registers the hot water and system override
// services. System-level overrides apply to every running installation.
func (i *Integration) RegisterServices(services *service.Registry) error {
	forEach := func(fn func(ctx context.Context, inst *installation) error) func(context.Context, service.Call) error {
		return func(ctx context.Context, _ service.Call) error {
			i.mu.Lock()
			insts := make([]*installation, 0, len(i.running))
			for _, inst := range i.running {
				insts = append(insts, inst)
			}
			i.mu.Unlock()
			for _, inst := range insts {
				if err := fn(ctx, inst); err != nil {
					return err
				}
			}
			return nil
		}
	}

	defs := []service.Definition{
		{
			Domain:      string(entity.DomainWaterHeater),
			Service:     "set_temperature",
			Description: "Set the hot water target temperature",
			Fields: map[string]service.Field{
				"temperature": {Type: service.FieldNumber, Required: true},
			},
			Handler: func(ctx context.Context, call service.Call) error {
				target, _ := call.Data["temperature"].(float64)
				return i.forHotWater(ctx, call.EntityIDs, func(ctx context.Context, inst *installation) error {
					return inst.client.SetHotWaterSetpoint(ctx, target)
				})
			},
		},
		{
			Domain:      string(entity.DomainWaterHeater),
			Service:     "start_boost",
			Description: "Heat the hot water tank once outside the schedule",
			Handler: func(ctx context.Context, call service.Call) error {
				return i.forHotWater(ctx, call.EntityIDs, func(ctx context.Context, inst *installation) error {
					return inst.client.StartHotWaterBoost(ctx)
				})
			},
		},
		{
			Domain:      string(entity.DomainWaterHeater),
			Service:     "stop_boost",
			Description: "Cancel a running hot water boost",
			Handler: func(ctx context.Context, call service.Call) error {
				return i.forHotWater(ctx, call.EntityIDs, func(ctx context.Context, inst *installation) error {
					return inst.client.StopHotWaterBoost(ctx)
				})
			},
		},
		{
			Domain:      Domain,
			Service:     "set_quick_mode",
			Description: "Activate a system-wide quick mode",
			Fields: map[string]service.Field{
				"mode": {Type: service.FieldString, Required: true,
					Values: []string{QuickModeParty, QuickModeOneDayAway, QuickModeSystemOff}},
			},
			Handler: func(ctx context.Context, call service.Call) error {
				mode, _ := call.Data["mode"].(string)
				return forEach(func(ctx context.Context, inst *installation) error {
					return inst.client.SetQuickMode(ctx, mode)
				})(ctx, call)
			},
		},
		{
			Domain:      Domain,
			Service:     "remove_quick_mode",
			Description: "Deactivate the active quick mode",
			Handler: forEach(func(ctx context.Context, inst *installation) error {
				return inst.client.RemoveQuickMode(ctx)
			}),
		},
		{
			Domain:      Domain,
			Service:     "set_holiday_mode",
			Description: "Schedule a holiday window with a reduced setpoint",
			Fields: map[string]service.Field{
				"start":       {Type: service.FieldString, Required: true, Description: "RFC 3339 start"},
				"end":         {Type: service.FieldString, Required: true, Description: "RFC 3339 end"},
				"temperature": {Type: service.FieldNumber, Required: true},
			},
			Handler: func(ctx context.Context, call service.Call) error {
				holiday, err := holidayFromCall(call)
				if err != nil {
					return err
				}
				return forEach(func(ctx context.Context, inst *installation) error {
					return inst.client.SetHolidayMode(ctx, holiday)
				})(ctx, call)
			},
		},
		{
			Domain:      Domain,
			Service:     "remove_holiday_mode",
			Description: "Cancel the holiday window",
			Handler: forEach(func(ctx context.Context, inst *installation) error {
				return inst.client.RemoveHolidayMode(ctx)
			}),
		},
	}

	for _, def := range defs {
		if err := services.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// forHotWater routes a water_heater call to the installations owning
// the target entities.
func (i *Integration) forHotWater(ctx context.Context, entityIDs []string, fn func(context.Context, *installation) error) error {
	for _, id := range entityIDs {
		inst := i.installationFor(id)
		if inst == nil {
			return fmt.Errorf("%w: no vaillant hot water entity %s", entity.ErrEntityNotFound, id)
		}
		if err := fn(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

func (i *Integration) installationFor(entityID string) *installation {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, inst := range i.running {
		if inst.ownsEntity(entityID) {
			return inst
		}
	}
	return nil
}

func holidayFromCall(call service.Call) (HolidayMode, error) {
	startRaw, _ := call.Data["start"].(string)
	endRaw, _ := call.Data["end"].(string)
	temperature, _ := call.Data["temperature"].(float64)

	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return HolidayMode{}, fmt.Errorf("%w: invalid start: %v", service.ErrInvalidCall, err)
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return HolidayMode{}, fmt.Errorf("%w: invalid end: %v", service.ErrInvalidCall, err)
	}
	if !end.After(start) {
		return HolidayMode{}, fmt.Errorf("%w: holiday end must follow start", service.ErrInvalidCall)
	}
	return HolidayMode{Start: start, End: end, TargetTemperature: temperature}, nil
}
