package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/hearthd/hearth-core/internal/configentry"
	"github.com/hearthd/hearth-core/internal/coordinator"
	"github.com/hearthd/hearth-core/internal/domains/update"
	"github.com/hearthd/hearth-core/internal/entity"
)

// Domain is the integration's config entry domain.
const Domain = "hardware"

// defaultPollInterval is how often the firmware manifest is polled.
const defaultPollInterval = 6 * time.Hour

// Integration wires hardware config entries to firmware coordinators
// and update entities.
type Integration struct {
	registry   *entity.Registry
	domain     *update.Domain
	dispatcher *Dispatcher
	clock      clock.Clock
	logger     Logger

	mu      sync.Mutex
	running map[string]*firmwareDevice // by entry id
}

// NewIntegration creates the hardware integration.
func NewIntegration(registry *entity.Registry, domain *update.Domain, dispatcher *Dispatcher, clk clock.Clock) *Integration {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Integration{
		registry:   registry,
		domain:     domain,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     noopLogger{},
		running:    make(map[string]*firmwareDevice),
	}
}

// SetLogger sets the logger for the integration.
func (i *Integration) SetLogger(logger Logger) {
	i.logger = logger
}

// Dispatcher returns the shared hardware info dispatcher.
func (i *Integration) Dispatcher() *Dispatcher {
	return i.dispatcher
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
	cfg, err := deviceConfigFromEntry(entry)
	if err != nil {
		return err
	}

	dev := newFirmwareDevice(cfg, entry.ID, i.registry, i.dispatcher, i.clock, i.logger)
	if err := dev.start(ctx); err != nil {
		return fmt.Errorf("%w: %v", configentry.ErrSetupRetry, err)
	}
	dev.detach = i.domain.Attach(dev)

	i.mu.Lock()
	i.running[entry.ID] = dev
	i.mu.Unlock()

	i.logger.Info("hardware attached",
		"name", cfg.Name, "port", cfg.Port, "entry", entry.ID)
	return nil
}

func (i *Integration) unload(ctx context.Context, entry *configentry.Entry) error {
	i.mu.Lock()
	dev, ok := i.running[entry.ID]
	delete(i.running, entry.ID)
	i.mu.Unlock()

	if !ok {
		return nil
	}
	return dev.stop(ctx)
}

// deviceConfig holds the per-entry hardware settings.
type deviceConfig struct {
	Name             string
	Port             string
	ManifestURL      string
	FlasherBinary    string
	FlasherArgs      []string
	PollInterval     time.Duration
	InstalledVersion string
}

func deviceConfigFromEntry(entry *configentry.Entry) (deviceConfig, error) {
	cfg := deviceConfig{PollInterval: defaultPollInterval}

	str := func(key string) string {
		s, _ := entry.Data[key].(string)
		return s
	}
	cfg.Name = str("name")
	cfg.Port = str("port")
	cfg.ManifestURL = str("manifest_url")
	cfg.FlasherBinary = str("flasher_binary")
	cfg.InstalledVersion = str("installed_version")

	if raw, ok := entry.Data["flasher_args"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				cfg.FlasherArgs = append(cfg.FlasherArgs, s)
			}
		}
	}
	switch v := entry.Data["poll_interval"].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("hardware: entry %s: invalid poll_interval: %w", entry.ID, err)
		}
		cfg.PollInterval = d
	case float64:
		cfg.PollInterval = time.Duration(v) * time.Second
	case int:
		cfg.PollInterval = time.Duration(v) * time.Second
	}

	if cfg.Name == "" || cfg.Port == "" || cfg.ManifestURL == "" || cfg.FlasherBinary == "" {
		return cfg, fmt.Errorf("hardware: entry %s: name, port, manifest_url, and flasher_binary are required", entry.ID)
	}
	return cfg, nil
}

// firmwareDevice is one hardware entry's firmware surface: the manifest
// coordinator, the update entity, and the flash workflow.
type firmwareDevice struct {
	cfg      deviceConfig
	entryID  string
	entityID string

	registry    *entity.Registry
	coordinator *coordinator.Coordinator[Manifest]
	flasher     *Flasher
	logger      Logger

	detach         func()
	removeListener func()

	mu        sync.Mutex
	installed string
	latest    Manifest
	hasLatest bool
	flashing  bool
}

func newFirmwareDevice(cfg deviceConfig, entryID string, registry *entity.Registry, dispatcher *Dispatcher, clk clock.Clock, logger Logger) *firmwareDevice {
	flasher := NewFlasher(FlasherConfig{
		Binary:   cfg.FlasherBinary,
		BaseArgs: cfg.FlasherArgs,
	}, dispatcher)
	flasher.SetLogger(logger)

	return &firmwareDevice{
		cfg:         cfg,
		entryID:     entryID,
		entityID:    entity.BuildID(entity.DomainUpdate, entity.Slugify(cfg.Name)+"_firmware"),
		registry:    registry,
		coordinator: NewFirmwareCoordinator(cfg.Name, cfg.ManifestURL, cfg.PollInterval, clk),
		flasher:     flasher,
		logger:      logger,
		installed:   cfg.InstalledVersion,
	}
}

// EntityID implements update.Device.
func (d *firmwareDevice) EntityID() string { return d.entityID }

func (d *firmwareDevice) start(ctx context.Context) error {
	if err := d.ensureEntity(ctx); err != nil {
		return err
	}

	d.removeListener = d.coordinator.AddListener(func(m Manifest, available bool) {
		d.onManifest(m, available)
	})

	// Initial fetch failure is retried by the poll loop; setup only
	// fails when the entity cannot be registered.
	if err := d.coordinator.Start(ctx); err != nil {
		d.logger.Warn("initial manifest fetch failed",
			"name", d.cfg.Name, "error", err)
	}
	return nil
}

func (d *firmwareDevice) stop(ctx context.Context) error {
	if d.removeListener != nil {
		d.removeListener()
	}
	d.coordinator.Stop()
	if d.detach != nil {
		d.detach()
	}
	return d.registry.RemoveByEntry(ctx, d.entryID)
}

func (d *firmwareDevice) ensureEntity(ctx context.Context) error {
	e := &entity.Entity{
		ID:            d.entityID,
		Name:          d.cfg.Name + " Firmware",
		Domain:        entity.DomainUpdate,
		Platform:      Domain,
		ConfigEntryID: &d.entryID,
	}
	if err := d.registry.Add(ctx, e); err != nil {
		return fmt.Errorf("registering %s: %w", d.entityID, err)
	}
	return nil
}

func (d *firmwareDevice) onManifest(m Manifest, available bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !available {
		if err := d.registry.SetUnavailable(ctx, d.entityID); err != nil {
			d.logger.Error("marking update entity unavailable",
				"entity", d.entityID, "error", err)
		}
		return
	}

	d.mu.Lock()
	d.latest = m
	d.hasLatest = true
	d.mu.Unlock()

	d.publish(ctx, false, -1)
}

// publish writes the update entity state and attributes.
func (d *firmwareDevice) publish(ctx context.Context, inProgress bool, percent int) {
	d.mu.Lock()
	installed := d.installed
	latest := d.latest
	hasLatest := d.hasLatest
	d.mu.Unlock()

	if !hasLatest {
		return
	}

	attrs := map[string]any{
		update.AttrInstalledVersion: installed,
		update.AttrLatestVersion:    latest.Version,
		update.AttrInProgress:       inProgress,
	}
	if latest.ReleaseNotes != "" {
		attrs[update.AttrReleaseNotes] = latest.ReleaseNotes
	}
	if inProgress && percent >= 0 {
		attrs[update.AttrProgress] = percent
	}

	state := update.StateFor(installed, latest.Version)
	if err := d.registry.SetState(ctx, d.entityID, state, attrs); err != nil {
		d.logger.Error("publishing update entity state",
			"entity", d.entityID, "error", err)
	}
}

// Install implements update.Device: it flashes the latest firmware.
func (d *firmwareDevice) Install(ctx context.Context) error {
	d.mu.Lock()
	if d.flashing {
		d.mu.Unlock()
		return fmt.Errorf("hardware: %s: flash already in progress", d.cfg.Name)
	}
	if !d.hasLatest {
		d.mu.Unlock()
		return ErrNoManifest
	}
	manifest := d.latest
	d.flashing = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.flashing = false
		d.mu.Unlock()
	}()

	err := d.flasher.Flash(ctx, d.cfg.Port, manifest, func(p Progress) {
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		switch p.Stage {
		case StageDone, StageFailed:
			d.publish(pctx, false, -1)
		default:
			d.publish(pctx, true, p.Percent)
		}
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.installed = manifest.Version
	d.mu.Unlock()

	fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.publish(fctx, false, -1)
	return nil
}
