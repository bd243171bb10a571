package hygrostat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/hearthd/hearth-core/internal/bus"
	"github.com/hearthd/hearth-core/internal/configentry"
	"github.com/hearthd/hearth-core/internal/domains/humidifier"
	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// Domain is the integration's config entry domain.
const Domain = "hygrostat"

// Integration wires hygrostat config entries to running controllers.
type Integration struct {
	registry *entity.Registry
	services *service.Registry
	events   *bus.Bus
	domain   *humidifier.Domain
	clock    clock.Clock
	logger   Logger

	mu      sync.Mutex
	running map[string]*runningController // by entry id
}

type runningController struct {
	controller *Controller
	detach     func()
}

// NewIntegration creates the hygrostat integration.
func NewIntegration(registry *entity.Registry, services *service.Registry, events *bus.Bus, domain *humidifier.Domain, clk clock.Clock) *Integration {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Integration{
		registry: registry,
		services: services,
		events:   events,
		domain:   domain,
		clock:    clk,
		logger:   noopLogger{},
		running:  make(map[string]*runningController),
	}
}

// SetLogger sets the logger for the integration and its controllers.
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
	cfg, err := configFromEntry(entry)
	if err != nil {
		return err
	}

	ctrl := NewController(cfg, i.registry, i.services, i.clock)
	ctrl.SetLogger(i.logger)

	if err := i.ensureEntity(ctx, cfg, entry.ID); err != nil {
		return err
	}

	if err := ctrl.Start(ctx, i.events); err != nil {
		return err
	}
	detach := i.domain.Attach(ctrl)

	i.mu.Lock()
	i.running[entry.ID] = &runningController{controller: ctrl, detach: detach}
	i.mu.Unlock()

	i.logger.Info("hygrostat started",
		"entity", cfg.EntityID, "switch", cfg.SwitchEntity, "sensor", cfg.SensorEntity)
	return nil
}

func (i *Integration) unload(ctx context.Context, entry *configentry.Entry) error {
	i.mu.Lock()
	rc, ok := i.running[entry.ID]
	delete(i.running, entry.ID)
	i.mu.Unlock()

	if !ok {
		return nil
	}
	rc.detach()
	rc.controller.Stop()
	return nil
}

// ensureEntity registers the humidifier entity if it does not exist.
func (i *Integration) ensureEntity(ctx context.Context, cfg Config, entryID string) error {
	if _, err := i.registry.Get(ctx, cfg.EntityID); err == nil {
		return nil
	}

	e := &entity.Entity{
		ID:            cfg.EntityID,
		Name:          cfg.Name,
		Domain:        entity.DomainHumidifier,
		Platform:      Domain,
		ConfigEntryID: &entryID,
	}
	class := string(cfg.DeviceClass)
	e.DeviceClass = &class
	return i.registry.Add(ctx, e)
}

// configFromEntry decodes and validates a controller config from entry data.
func configFromEntry(entry *configentry.Entry) (Config, error) {
	data := entry.Data
	cfg := Config{
		Name:         stringField(data, "name"),
		SwitchEntity: stringField(data, "switch_entity"),
		SensorEntity: stringField(data, "sensor_entity"),
		DeviceClass:  humidifier.DeviceClass(stringField(data, "device_class")),

		TargetHumidity: floatField(data, "target_humidity"),
		MinHumidity:    floatField(data, "min_humidity"),
		MaxHumidity:    floatField(data, "max_humidity"),
		DryTolerance:   floatField(data, "dry_tolerance"),
		WetTolerance:   floatField(data, "wet_tolerance"),

		MinCycleDuration:    durationField(data, "min_cycle_duration"),
		KeepAlive:           durationField(data, "keep_alive"),
		SensorStaleDuration: durationField(data, "sensor_stale_duration"),

		InitialOn: boolField(data, "initial_on"),
		AwayFixed: boolField(data, "away_fixed"),
	}
	if v, ok := data["away_humidity"]; ok {
		if f, ok := toFloat(v); ok {
			cfg.AwayHumidity = &f
		}
	}

	if cfg.Name == "" {
		return Config{}, fmt.Errorf("hygrostat: entry %s: name is required", entry.ID)
	}
	if cfg.SwitchEntity == "" || cfg.SensorEntity == "" {
		return Config{}, fmt.Errorf("hygrostat: entry %s: switch_entity and sensor_entity are required", entry.ID)
	}
	if cfg.TargetHumidity == 0 {
		return Config{}, fmt.Errorf("hygrostat: entry %s: target_humidity is required", entry.ID)
	}
	return cfg, nil
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func boolField(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}

func floatField(data map[string]any, key string) float64 {
	f, _ := toFloat(data[key])
	return f
}

func durationField(data map[string]any, key string) time.Duration {
	switch v := data[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0
		}
		return d
	case float64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	default:
		return 0
	}
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
