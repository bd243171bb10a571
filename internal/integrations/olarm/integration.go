package olarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/hearthd/hearth-core/internal/configentry"
	"github.com/hearthd/hearth-core/internal/coordinator"
	"github.com/hearthd/hearth-core/internal/domains/alarm"
	"github.com/hearthd/hearth-core/internal/entity"
)

// Domain is the integration's config entry domain.
const Domain = "olarm"

// defaultPollInterval is how often device state is polled.
const defaultPollInterval = 30 * time.Second

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

// Integration wires Olarm config entries to polling accounts.
type Integration struct {
	registry *entity.Registry
	domain   *alarm.Domain
	clock    clock.Clock
	logger   Logger

	mu      sync.Mutex
	running map[string]*account // by entry id
}

// NewIntegration creates the Olarm integration.
func NewIntegration(registry *entity.Registry, domain *alarm.Domain, clk clock.Clock) *Integration {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Integration{
		registry: registry,
		domain:   domain,
		clock:    clk,
		logger:   noopLogger{},
		running:  make(map[string]*account),
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
	apiKey, _ := entry.Data["api_key"].(string)
	if apiKey == "" {
		return fmt.Errorf("olarm: entry %s: api_key is required", entry.ID)
	}
	baseURL, _ := entry.Data["base_url"].(string)

	interval := defaultPollInterval
	if s, ok := entry.Data["poll_interval"].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("olarm: entry %s: invalid poll_interval: %w", entry.ID, err)
		}
		interval = d
	}

	client := NewClient(baseURL, apiKey)

	// Probe the key before committing to a poll loop: a bad key is a
	// permanent setup failure, anything else is worth retrying.
	if _, err := client.Devices(ctx); err != nil {
		if errors.Is(err, ErrAPIKeyInvalid) || errors.Is(err, ErrForbidden) {
			return err
		}
		return fmt.Errorf("%w: %v", configentry.ErrSetupRetry, err)
	}

	acct := newAccount(entry.ID, client, i.registry, i.domain, i.logger)
	acct.coordinator = coordinator.New("olarm", interval, client.Devices, i.clock)
	acct.removeListener = acct.coordinator.AddListener(acct.onDevices)

	if err := acct.coordinator.Start(ctx); err != nil {
		// The probe just succeeded; the loop will recover on its own.
		i.logger.Warn("initial olarm refresh failed", "entry", entry.ID, "error", err)
	}

	i.mu.Lock()
	i.running[entry.ID] = acct
	i.mu.Unlock()

	i.logger.Info("olarm account attached", "entry", entry.ID)
	return nil
}

func (i *Integration) unload(ctx context.Context, entry *configentry.Entry) error {
	i.mu.Lock()
	acct, ok := i.running[entry.ID]
	delete(i.running, entry.ID)
	i.mu.Unlock()

	if !ok {
		return nil
	}
	return acct.stop(ctx)
}

// account is one API key's worth of panels.
type account struct {
	entryID  string
	client   *Client
	registry *entity.Registry
	domain   *alarm.Domain
	logger   Logger

	coordinator    *coordinator.Coordinator[[]Device]
	removeListener func()

	mu       sync.Mutex
	ensured  map[string]struct{} // entity ids already registered
	detaches map[string]func()   // alarm domain detach per entity id
}

func newAccount(entryID string, client *Client, registry *entity.Registry, domain *alarm.Domain, logger Logger) *account {
	return &account{
		entryID:  entryID,
		client:   client,
		registry: registry,
		domain:   domain,
		logger:   logger,
		ensured:  make(map[string]struct{}),
		detaches: make(map[string]func()),
	}
}

func (a *account) stop(ctx context.Context) error {
	if a.removeListener != nil {
		a.removeListener()
	}
	a.coordinator.Stop()

	a.mu.Lock()
	for _, detach := range a.detaches {
		detach()
	}
	a.detaches = make(map[string]func())
	a.mu.Unlock()

	return a.registry.RemoveByEntry(ctx, a.entryID)
}

// onDevices applies one coordinator snapshot to the entity registry.
func (a *account) onDevices(devices []Device, available bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if !available {
		a.mu.Lock()
		ids := make([]string, 0, len(a.ensured))
		for id := range a.ensured {
			ids = append(ids, id)
		}
		a.mu.Unlock()
		for _, id := range ids {
			if err := a.registry.SetUnavailable(ctx, id); err != nil {
				a.logger.Error("marking olarm entity unavailable",
					"entity", id, "error", err)
			}
		}
		return
	}

	for _, dev := range devices {
		a.syncAreas(ctx, dev)
		a.syncZones(ctx, dev)
	}
}

func (a *account) syncAreas(ctx context.Context, dev Device) {
	for idx, raw := range dev.State.Areas {
		areaNum := idx + 1
		label := fmt.Sprintf("Area %d", areaNum)
		if idx < len(dev.Profile.AreasLabels) && dev.Profile.AreasLabels[idx] != "" {
			label = dev.Profile.AreasLabels[idx]
		}

		entityID := entity.BuildID(entity.DomainAlarmPanel,
			entity.Slugify(dev.Name)+"_"+entity.Slugify(label))

		if err := a.ensureEntity(ctx, entityID, dev.Name+" "+label, entity.DomainAlarmPanel); err != nil {
			a.logger.Error("registering alarm entity", "entity", entityID, "error", err)
			continue
		}
		a.attachArea(entityID, dev.ID, areaNum)

		attrs := map[string]any{
			alarm.AttrAreaNumber: areaNum,
			"device_id":          dev.ID,
		}
		if err := a.registry.SetState(ctx, entityID, areaEntityState(raw), attrs); err != nil {
			a.logger.Error("updating alarm entity", "entity", entityID, "error", err)
		}
	}
}

func (a *account) syncZones(ctx context.Context, dev Device) {
	for idx, raw := range dev.State.Zones {
		if dev.Profile.ZonesLimit > 0 && idx >= dev.Profile.ZonesLimit {
			break
		}
		zoneNum := idx + 1
		label := fmt.Sprintf("Zone %d", zoneNum)
		if idx < len(dev.Profile.ZonesLabels) && dev.Profile.ZonesLabels[idx] != "" {
			label = dev.Profile.ZonesLabels[idx]
		}

		entityID := entity.BuildID(entity.DomainBinarySensor,
			entity.Slugify(dev.Name)+"_"+entity.Slugify(label))

		if err := a.ensureEntity(ctx, entityID, dev.Name+" "+label, entity.DomainBinarySensor); err != nil {
			a.logger.Error("registering zone entity", "entity", entityID, "error", err)
			continue
		}

		state := entity.StateOff
		if raw == zoneStateActive {
			state = entity.StateOn
		}
		attrs := map[string]any{
			"zone_number": zoneNum,
			"bypassed":    raw == zoneStateBypassed,
			"device_id":   dev.ID,
		}
		if err := a.registry.SetState(ctx, entityID, state, attrs); err != nil {
			a.logger.Error("updating zone entity", "entity", entityID, "error", err)
		}
	}
}

// ensureEntity registers an entity once per account lifetime.
func (a *account) ensureEntity(ctx context.Context, entityID, name string, domain entity.Domain) error {
	a.mu.Lock()
	_, done := a.ensured[entityID]
	a.mu.Unlock()
	if done {
		return nil
	}

	e := &entity.Entity{
		ID:            entityID,
		Name:          name,
		Domain:        domain,
		Platform:      Domain,
		ConfigEntryID: &a.entryID,
	}
	if err := a.registry.Add(ctx, e); err != nil && !errors.Is(err, entity.ErrEntityExists) {
		return err
	}

	a.mu.Lock()
	a.ensured[entityID] = struct{}{}
	a.mu.Unlock()
	return nil
}

// attachArea binds an areaDevice to the alarm domain once.
func (a *account) attachArea(entityID, deviceID string, areaNum int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.detaches[entityID]; ok {
		return
	}
	dev := &areaDevice{
		entityID: entityID,
		deviceID: deviceID,
		areaNum:  areaNum,
		client:   a.client,
	}
	a.detaches[entityID] = a.domain.Attach(dev)
}

// areaEntityState maps a raw panel area state onto the alarm domain.
func areaEntityState(raw string) string {
	switch raw {
	case areaStateArm:
		return alarm.StateArmedAway
	case areaStateStay:
		return alarm.StateArmedHome
	case areaStateSleep:
		return alarm.StateArmedNight
	case areaStateAlarm, areaStateEmergency, areaStateFire:
		return alarm.StateTriggered
	case areaStateDisarm, areaStateNotReady, areaStateCountdown:
		return alarm.StateDisarmed
	default:
		return entity.StateUnknown
	}
}

// areaDevice is one panel area exposed as an alarm.Device.
type areaDevice struct {
	entityID string
	deviceID string
	areaNum  int
	client   *Client
}

func (d *areaDevice) EntityID() string { return d.entityID }

func (d *areaDevice) ArmAway(ctx context.Context) error {
	return d.client.SendAction(ctx, d.deviceID, ActionArm, d.areaNum)
}

func (d *areaDevice) ArmHome(ctx context.Context) error {
	return d.client.SendAction(ctx, d.deviceID, ActionStay, d.areaNum)
}

func (d *areaDevice) ArmNight(ctx context.Context) error {
	return d.client.SendAction(ctx, d.deviceID, ActionSleep, d.areaNum)
}

func (d *areaDevice) Disarm(ctx context.Context) error {
	return d.client.SendAction(ctx, d.deviceID, ActionDisarm, d.areaNum)
}
