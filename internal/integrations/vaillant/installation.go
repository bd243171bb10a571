package vaillant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/hearthd/hearth-core/internal/coordinator"
	"github.com/hearthd/hearth-core/internal/domains/climate"
	"github.com/hearthd/hearth-core/internal/entity"
)

// installation is one installation's runtime: the coordinator, the
// climate devices, and the entity sync.
type installation struct {
	entryID  string
	prefix   string
	client   *Client
	registry *entity.Registry
	domain   *climate.Domain
	clock    clock.Clock
	logger   Logger

	coordinator    *coordinator.Coordinator[System]
	removeListener func()

	mu       sync.Mutex
	system   System
	hasData  bool
	ensured  map[string]struct{}
	detaches map[string]func()
}

func newInstallation(entryID, prefix string, client *Client, registry *entity.Registry, domain *climate.Domain, clk clock.Clock, logger Logger) *installation {
	return &installation{
		entryID:  entryID,
		prefix:   prefix,
		client:   client,
		registry: registry,
		domain:   domain,
		clock:    clk,
		logger:   logger,
		ensured:  make(map[string]struct{}),
		detaches: make(map[string]func()),
	}
}

func (n *installation) stop(ctx context.Context) error {
	if n.removeListener != nil {
		n.removeListener()
	}
	n.coordinator.Stop()

	n.mu.Lock()
	for _, detach := range n.detaches {
		detach()
	}
	n.detaches = make(map[string]func())
	n.mu.Unlock()

	return n.registry.RemoveByEntry(ctx, n.entryID)
}

func (n *installation) ownsEntity(entityID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.ensured[entityID]
	return ok
}

// snapshot returns the latest system state.
func (n *installation) snapshot() (System, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.system, n.hasData
}

// onSystem applies one coordinator snapshot to the entity registry.
func (n *installation) onSystem(sys System, available bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if !available {
		n.mu.Lock()
		ids := make([]string, 0, len(n.ensured))
		for id := range n.ensured {
			ids = append(ids, id)
		}
		n.mu.Unlock()
		for _, id := range ids {
			if err := n.registry.SetUnavailable(ctx, id); err != nil {
				n.logger.Error("marking vaillant entity unavailable",
					"entity", id, "error", err)
			}
		}
		return
	}

	n.mu.Lock()
	n.system = sys
	n.hasData = true
	n.mu.Unlock()

	now := n.clock.Now()

	if sys.OutdoorTemperature != nil {
		n.syncOutdoor(ctx, *sys.OutdoorTemperature)
	}
	for _, zone := range sys.Zones {
		n.syncZone(ctx, sys, zone, now)
	}
	for _, room := range sys.Rooms {
		n.syncRoom(ctx, sys, room, now)
	}
	if sys.HotWater != nil {
		n.syncHotWater(ctx, *sys.HotWater)
	}
}

func (n *installation) syncOutdoor(ctx context.Context, temperature float64) {
	entityID := entity.BuildID(entity.DomainSensor, n.prefix+"_outdoor_temperature")
	if err := n.ensureEntity(ctx, entityID, "Outdoor Temperature", entity.DomainSensor, "°C"); err != nil {
		n.logger.Error("registering outdoor sensor", "entity", entityID, "error", err)
		return
	}
	value := strconv.FormatFloat(temperature, 'f', -1, 64)
	if err := n.registry.SetState(ctx, entityID, value, nil); err != nil {
		n.logger.Error("updating outdoor sensor", "entity", entityID, "error", err)
	}
}

func (n *installation) syncZone(ctx context.Context, sys System, zone Zone, now time.Time) {
	entityID := entity.BuildID(entity.DomainClimate, n.prefix+"_"+entity.Slugify(zone.Name))
	if err := n.ensureEntity(ctx, entityID, zone.Name, entity.DomainClimate, ""); err != nil {
		n.logger.Error("registering zone entity", "entity", entityID, "error", err)
		return
	}
	n.attachDevice(entityID, &zoneDevice{inst: n, entityID: entityID, zoneID: zone.ID})
	n.publishClimate(ctx, entityID, sys, zone.OperatingMode,
		zone.CurrentTemperature, zone.TargetTemperature, zone.QuickVeto, now)
}

func (n *installation) syncRoom(ctx context.Context, sys System, room Room, now time.Time) {
	entityID := entity.BuildID(entity.DomainClimate, n.prefix+"_"+entity.Slugify(room.Name))
	if err := n.ensureEntity(ctx, entityID, room.Name, entity.DomainClimate, ""); err != nil {
		n.logger.Error("registering room entity", "entity", entityID, "error", err)
		return
	}
	n.attachDevice(entityID, &roomDevice{inst: n, entityID: entityID, roomID: room.ID})
	n.publishClimate(ctx, entityID, sys, room.OperatingMode,
		room.CurrentTemperature, room.TargetTemperature, room.QuickVeto, now)
}

func (n *installation) publishClimate(ctx context.Context, entityID string, sys System, operatingMode string, current, scheduled float64, veto *QuickVeto, now time.Time) {
	attrs := map[string]any{
		climate.AttrTemperature:        sys.EffectiveTarget(scheduled, veto, now),
		climate.AttrCurrentTemperature: current,
		climate.AttrHVACMode:           string(hvacModeFor(operatingMode)),
		climate.AttrHVACModes:          []string{"off", "heat", "auto"},
		climate.AttrPreset:             sys.EffectivePreset(veto, now),
		climate.AttrPresets:            climatePresets(),
	}
	state := string(hvacModeFor(operatingMode))
	if err := n.registry.SetState(ctx, entityID, state, attrs); err != nil {
		n.logger.Error("updating climate entity", "entity", entityID, "error", err)
	}
}

func (n *installation) syncHotWater(ctx context.Context, hw HotWater) {
	entityID := entity.BuildID(entity.DomainWaterHeater, n.prefix+"_hot_water")
	if err := n.ensureEntity(ctx, entityID, "Hot Water", entity.DomainWaterHeater, ""); err != nil {
		n.logger.Error("registering hot water entity", "entity", entityID, "error", err)
		return
	}

	attrs := map[string]any{
		"temperature":         hw.TargetTemperature,
		"current_temperature": hw.CurrentTemperature,
		"boost_active":        hw.BoostActive,
	}
	if err := n.registry.SetState(ctx, entityID, hw.OperatingMode, attrs); err != nil {
		n.logger.Error("updating hot water entity", "entity", entityID, "error", err)
	}
}

func (n *installation) ensureEntity(ctx context.Context, entityID, name string, domain entity.Domain, unit string) error {
	n.mu.Lock()
	_, done := n.ensured[entityID]
	n.mu.Unlock()
	if done {
		return nil
	}

	e := &entity.Entity{
		ID:            entityID,
		Name:          name,
		Domain:        domain,
		Platform:      Domain,
		ConfigEntryID: &n.entryID,
	}
	if unit != "" {
		e.Unit = &unit
	}
	if err := n.registry.Add(ctx, e); err != nil && !errors.Is(err, entity.ErrEntityExists) {
		return err
	}

	n.mu.Lock()
	n.ensured[entityID] = struct{}{}
	n.mu.Unlock()
	return nil
}

func (n *installation) attachDevice(entityID string, dev climate.Device) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.detaches[entityID]; ok {
		return
	}
	n.detaches[entityID] = n.domain.Attach(dev)
}

// rejectDuringHoliday blocks schedule writes while holiday mode is active.
func (n *installation) rejectDuringHoliday() error {
	sys, ok := n.snapshot()
	if ok && sys.HolidayActive(n.clock.Now()) {
		return ErrHolidayActive
	}
	return nil
}

// requestRefresh polls immediately so a command's effect shows up
// without waiting a full interval.
func (n *installation) requestRefresh(ctx context.Context) {
	if err := n.coordinator.Refresh(ctx); err != nil {
		n.logger.Warn("post-command refresh failed", "entry", n.entryID, "error", err)
	}
}

func hvacModeFor(operatingMode string) climate.HVACMode {
	switch operatingMode {
	case OperatingModeOff:
		return climate.ModeOff
	case OperatingModeAuto:
		return climate.ModeAuto
	default:
		return climate.ModeHeat
	}
}

func operatingModeFor(mode climate.HVACMode) string {
	switch mode {
	case climate.ModeOff:
		return OperatingModeOff
	case climate.ModeAuto:
		return OperatingModeAuto
	default:
		return OperatingModeManual
	}
}

func climatePresets() []string {
	return []string{
		climate.PresetNone,
		climate.PresetQuickVeto,
		climate.PresetHoliday,
		QuickModeParty,
		QuickModeOneDayAway,
		QuickModeSystemOff,
	}
}

// zoneDevice exposes one heating zone as a climate.Device.
type zoneDevice struct {
	inst     *installation
	entityID string
	zoneID   string
}

func (d *zoneDevice) EntityID() string { return d.entityID }

func (d *zoneDevice) HVACModes() []climate.HVACMode {
	return []climate.HVACMode{climate.ModeOff, climate.ModeHeat, climate.ModeAuto}
}
func (d *zoneDevice) Presets() []string { return climatePresets() }

// SetTemperature starts a quick veto at the requested setpoint.
func (d *zoneDevice) SetTemperature(ctx context.Context, target float64) error {
	if err := d.inst.rejectDuringHoliday(); err != nil {
		return err
	}
	if err := d.inst.client.SetZoneSetpoint(ctx, d.zoneID, target, defaultVetoDuration); err != nil {
		return err
	}
	d.inst.requestRefresh(ctx)
	return nil
}

func (d *zoneDevice) SetHVACMode(ctx context.Context, mode climate.HVACMode) error {
	if err := d.inst.rejectDuringHoliday(); err != nil {
		return err
	}
	if err := d.inst.client.SetZoneOperatingMode(ctx, d.zoneID, operatingModeFor(mode)); err != nil {
		return err
	}
	d.inst.requestRefresh(ctx)
	return nil
}

// SetPreset handles quick mode activation and veto removal. The
// holiday preset carries a time window and is set through the
// vaillant.set_holiday_mode service instead.
func (d *zoneDevice) SetPreset(ctx context.Context, preset string) error {
	return setClimatePreset(ctx, d.inst, preset, func(ctx context.Context) error {
		return d.inst.client.RemoveZoneQuickVeto(ctx, d.zoneID)
	})
}

// roomDevice exposes one ambisense room as a climate.Device.
type roomDevice struct {
	inst     *installation
	entityID string
	roomID   int
}

func (d *roomDevice) EntityID() string { return d.entityID }

func (d *roomDevice) HVACModes() []climate.HVACMode {
	return []climate.HVACMode{climate.ModeOff, climate.ModeHeat, climate.ModeAuto}
}
func (d *roomDevice) Presets() []string { return climatePresets() }

func (d *roomDevice) SetTemperature(ctx context.Context, target float64) error {
	if err := d.inst.rejectDuringHoliday(); err != nil {
		return err
	}
	if err := d.inst.client.SetRoomSetpoint(ctx, d.roomID, target, defaultVetoDuration); err != nil {
		return err
	}
	d.inst.requestRefresh(ctx)
	return nil
}

func (d *roomDevice) SetHVACMode(ctx context.Context, mode climate.HVACMode) error {
	if err := d.inst.rejectDuringHoliday(); err != nil {
		return err
	}
	if err := d.inst.client.SetRoomOperatingMode(ctx, d.roomID, operatingModeFor(mode)); err != nil {
		return err
	}
	d.inst.requestRefresh(ctx)
	return nil
}

func (d *roomDevice) SetPreset(ctx context.Context, preset string) error {
	return setClimatePreset(ctx, d.inst, preset, func(ctx context.Context) error {
		return d.inst.client.RemoveRoomQuickVeto(ctx, d.roomID)
	})
}

// setClimatePreset implements the shared preset transitions for zones
// and rooms.
func setClimatePreset(ctx context.Context, inst *installation, preset string, removeVeto func(context.Context) error) error {
	var err error
	switch preset {
	case climate.PresetNone:
		// Clear whichever override is active
		sys, ok := inst.snapshot()
		if ok && sys.QuickMode != "" {
			err = inst.client.RemoveQuickMode(ctx)
		} else {
			err = removeVeto(ctx)
		}
	case QuickModeParty, QuickModeOneDayAway, QuickModeSystemOff:
		err = inst.client.SetQuickMode(ctx, preset)
	case climate.PresetHoliday:
		return fmt.Errorf("vaillant: holiday mode needs a window; use the set_holiday_mode service")
	case climate.PresetQuickVeto:
		return fmt.Errorf("vaillant: quick veto is started by setting a target temperature")
	default:
		return fmt.Errorf("vaillant: unknown preset %q", preset)
	}
	if err != nil {
		return err
	}
	inst.requestRefresh(ctx)
	return nil
}
