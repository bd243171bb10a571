package hygrostat

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/hearthd/hearth-core/internal/bus"
	"github.com/hearthd/hearth-core/internal/domains/humidifier"
	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// Operating modes when an away preset is configured.
const (
	ModeNormal = "normal"
	ModeAway   = "away"
)

// Logger defines the logging interface used by the controller.
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

// Config describes one hygrostat controller.
type Config struct {
	Name         string
	EntityID     string // humidifier.<slug>, derived from Name when empty
	SwitchEntity string // switch the controller commands
	SensorEntity string // humidity sensor the controller observes
	DeviceClass  humidifier.DeviceClass

	TargetHumidity float64
	MinHumidity    float64
	MaxHumidity    float64
	DryTolerance   float64
	WetTolerance   float64

	MinCycleDuration    time.Duration
	KeepAlive           time.Duration
	SensorStaleDuration time.Duration

	InitialOn bool

	// AwayHumidity enables an away preset when non-nil.
	AwayHumidity *float64
	// AwayFixed makes set_humidity while away update the saved home
	// target instead of the active one.
	AwayFixed bool
}

func (c *Config) applyDefaults() {
	if c.EntityID == "" {
		c.EntityID = entity.BuildID(entity.DomainHumidifier, entity.Slugify(c.Name))
	}
	if c.DeviceClass == "" {
		c.DeviceClass = humidifier.ClassHumidifier
	}
	if c.MaxHumidity == 0 {
		c.MaxHumidity = humidifier.DefaultMaxHumidity
	}
	if c.DryTolerance == 0 {
		c.DryTolerance = 3
	}
	if c.WetTolerance == 0 {
		c.WetTolerance = 3
	}
	if c.SensorStaleDuration == 0 {
		c.SensorStaleDuration = 30 * time.Minute
	}
}

// Controller runs the bang-bang loop for one humidifier entity.
//
// All control decisions are serialized by mu: sensor updates, service
// calls, keep-alive ticks, and stale checks each take the lock,
// re-evaluate the control law, and command the switch if needed.
type Controller struct {
	cfg      Config
	registry *entity.Registry
	services *service.Registry
	clock    clock.Clock
	logger   Logger

	mu          sync.Mutex
	active      bool     // humidifier entity on/off
	deviceOn    bool     // switch commanded state
	target      float64  // active target humidity
	savedTarget float64  // home target while away
	away        bool
	current     *float64 // last sensor reading
	lastToggle  time.Time
	lastSensor  time.Time
	unavailable bool

	unsub    func()
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewController creates a controller. clk defaults to the wall clock.
func NewController(cfg Config, registry *entity.Registry, services *service.Registry, clk clock.Clock) *Controller {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.WallClock
	}
	return &Controller{
		cfg:      cfg,
		registry: registry,
		services: services,
		clock:    clk,
		logger:   noopLogger{},
		active:   cfg.InitialOn,
		target:   cfg.TargetHumidity,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// Start subscribes to sensor updates, seeds state from the registry,
// and launches the keep-alive/stale loop.
func (c *Controller) Start(ctx context.Context, events *bus.Bus) error {
	// Seed from the current sensor state if one exists.
	if st, err := c.registry.GetState(ctx, c.cfg.SensorEntity); err == nil {
		c.mu.Lock()
		c.ingestReading(st.Value)
		c.mu.Unlock()
	}

	c.unsub = events.SubscribeStateChanged(func(ev bus.StateChanged) {
		if ev.EntityID != c.cfg.SensorEntity {
			return
		}
		c.onSensorState(ev.NewState.Value)
	})

	go c.run()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.control(context.Background(), false)
	c.publish(context.Background())
	return nil
}

// Stop halts the background loop and unsubscribes from the bus.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	if c.unsub != nil {
		c.unsub()
	}
}

// run drives keep-alive re-sends and stale sensor detection.
func (c *Controller) run() {
	defer close(c.done)

	tick := time.Minute
	if c.cfg.KeepAlive > 0 && c.cfg.KeepAlive < tick {
		tick = c.cfg.KeepAlive
	}
	if c.cfg.SensorStaleDuration > 0 && c.cfg.SensorStaleDuration < tick {
		tick = c.cfg.SensorStaleDuration
	}

	var lastKeepAlive time.Time
	for {
		select {
		case <-c.stop:
			return
		case <-c.clock.After(tick):
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			now := c.clock.Now()

			c.mu.Lock()
			c.checkStale(ctx, now)
			if c.cfg.KeepAlive > 0 && now.Sub(lastKeepAlive) >= c.cfg.KeepAlive {
				lastKeepAlive = now
				c.resendCommand(ctx)
			}
			c.publish(ctx)
			c.mu.Unlock()
			cancel()
		}
	}
}

// --- humidifier.Device ---

// EntityID returns the humidifier entity backed by this controller.
func (c *Controller) EntityID() string { return c.cfg.EntityID }

// IsOn reports whether the controller is active.
func (c *Controller) IsOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// TurnOn activates the controller and evaluates the control law
// immediately, bypassing the cycle debounce.
func (c *Controller) TurnOn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}
	c.active = true
	c.control(ctx, true)
	c.publish(ctx)
	return nil
}

// TurnOff deactivates the controller and forces the switch off.
func (c *Controller) TurnOff(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	c.active = false
	c.setSwitch(ctx, false, true)
	c.publish(ctx)
	return nil
}

// SetHumidity sets the target. While away with away_fixed, the saved
// home target is updated instead.
func (c *Controller) SetHumidity(ctx context.Context, target float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.away && c.cfg.AwayFixed {
		c.savedTarget = target
		c.logger.Debug("home target updated while away",
			"entity", c.cfg.EntityID, "target", target)
		c.publish(ctx)
		return nil
	}

	c.target = target
	c.control(ctx, false)
	c.publish(ctx)
	return nil
}

// SetMode switches between normal and away operation.
func (c *Controller) SetMode(ctx context.Context, mode string) error {
	if c.cfg.AwayHumidity == nil {
		return fmt.Errorf("%w: no away preset configured", service.ErrInvalidCall)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch mode {
	case ModeAway:
		if !c.away {
			c.away = true
			c.savedTarget = c.target
			c.target = *c.cfg.AwayHumidity
		}
	case ModeNormal:
		if c.away {
			c.away = false
			c.target = c.savedTarget
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", service.ErrInvalidCall, mode)
	}

	c.control(ctx, false)
	c.publish(ctx)
	return nil
}

// Features reports SupportsModes when an away preset is configured.
func (c *Controller) Features() humidifier.Features {
	if c.cfg.AwayHumidity != nil {
		return humidifier.SupportsModes
	}
	return 0
}

// AvailableModes lists the operating modes.
func (c *Controller) AvailableModes() []string {
	if c.cfg.AwayHumidity == nil {
		return nil
	}
	return []string{ModeNormal, ModeAway}
}

// MinHumidity returns the configured lower target bound.
func (c *Controller) MinHumidity() float64 { return c.cfg.MinHumidity }

// MaxHumidity returns the configured upper target bound.
func (c *Controller) MaxHumidity() float64 { return c.cfg.MaxHumidity }

// --- sensor handling ---

func (c *Controller) onSensorState(value string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ingestReading(value) {
		return
	}
	c.control(ctx, false)
	c.publish(ctx)
}

// ingestReading parses a sensor value. Unparseable and non-finite
// readings are ignored; valid ones refresh the stale timer and clear
// unavailability. Callers hold mu.
func (c *Controller) ingestReading(value string) bool {
	if value == entity.StateUnknown || value == entity.StateUnavailable {
		return false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		c.logger.Warn("ignoring unparseable sensor reading",
			"entity", c.cfg.EntityID, "sensor", c.cfg.SensorEntity, "value", value)
		return false
	}

	c.current = &f
	c.lastSensor = c.clock.Now()
	if c.unavailable {
		c.unavailable = false
		c.logger.Info("sensor recovered", "entity", c.cfg.EntityID)
	}
	return true
}

// checkStale switches off and marks the entity unavailable when the
// sensor has not reported within the stale window. Callers hold mu.
func (c *Controller) checkStale(ctx context.Context, now time.Time) {
	if c.cfg.SensorStaleDuration <= 0 || c.unavailable || c.current == nil {
		return
	}
	if now.Sub(c.lastSensor) < c.cfg.SensorStaleDuration {
		return
	}

	c.logger.Warn("sensor stale, switching off",
		"entity", c.cfg.EntityID, "sensor", c.cfg.SensorEntity)
	c.unavailable = true
	c.current = nil
	c.setSwitch(ctx, false, true)
}

// --- control law ---

// control evaluates the bang-bang law and commands the switch.
// force bypasses the min-cycle debounce. Callers hold mu.
func (c *Controller) control(ctx context.Context, force bool) {
	if !c.active || c.unavailable {
		if c.deviceOn {
			c.setSwitch(ctx, false, force)
		}
		return
	}
	if c.current == nil {
		return
	}

	current := *c.current
	var wantOn, wantOff bool
	if c.cfg.DeviceClass == humidifier.ClassDehumidifier {
		wantOn = current-c.target >= c.cfg.WetTolerance
		wantOff = c.target-current >= c.cfg.DryTolerance
	} else {
		wantOn = c.target-current >= c.cfg.DryTolerance
		wantOff = current-c.target >= c.cfg.WetTolerance
	}

	switch {
	case wantOn && !c.deviceOn:
		c.setSwitch(ctx, true, force)
	case wantOff && c.deviceOn:
		c.setSwitch(ctx, false, force)
	}
}

// setSwitch commands the switch entity, honouring the min-cycle
// debounce unless forced. Callers hold mu.
func (c *Controller) setSwitch(ctx context.Context, on, force bool) {
	if c.deviceOn == on {
		return
	}
	if !force && c.cfg.MinCycleDuration > 0 && !c.lastToggle.IsZero() {
		if elapsed := c.clock.Now().Sub(c.lastToggle); elapsed < c.cfg.MinCycleDuration {
			c.logger.Debug("toggle suppressed by min cycle",
				"entity", c.cfg.EntityID, "elapsed", elapsed)
			return
		}
	}

	if err := c.commandSwitch(ctx, on); err != nil {
		c.logger.Error("switch command failed",
			"entity", c.cfg.EntityID, "switch", c.cfg.SwitchEntity, "on", on, "error", err)
		return
	}
	c.deviceOn = on
	c.lastToggle = c.clock.Now()
}

// resendCommand re-sends the current on/off command (keep-alive).
// Callers hold mu.
func (c *Controller) resendCommand(ctx context.Context) {
	if c.unavailable {
		return
	}
	on := c.deviceOn && c.active
	if err := c.commandSwitch(ctx, on); err != nil {
		c.logger.Error("keep-alive command failed",
			"entity", c.cfg.EntityID, "switch", c.cfg.SwitchEntity, "error", err)
	}
}

func (c *Controller) commandSwitch(ctx context.Context, on bool) error {
	svc := "turn_off"
	if on {
		svc = "turn_on"
	}
	return c.services.Call(ctx, service.Call{
		Domain:    string(entity.DomainSwitch),
		Service:   svc,
		EntityIDs: []string{c.cfg.SwitchEntity},
	})
}

// --- entity state ---

// action derives the reported action. Callers hold mu.
func (c *Controller) action() humidifier.Action {
	if !c.active {
		return humidifier.ActionOff
	}
	if !c.deviceOn {
		return humidifier.ActionIdle
	}
	if c.cfg.DeviceClass == humidifier.ClassDehumidifier {
		return humidifier.ActionDrying
	}
	return humidifier.ActionHumidifying
}

// publish writes the humidifier entity state. Callers hold mu.
func (c *Controller) publish(ctx context.Context) {
	if c.unavailable {
		if err := c.registry.SetUnavailable(ctx, c.cfg.EntityID); err != nil {
			c.logger.Error("publishing unavailable state",
				"entity", c.cfg.EntityID, "error", err)
		}
		return
	}

	value := entity.StateOff
	if c.active {
		value = entity.StateOn
	}

	attrs := entity.Attributes{
		humidifier.AttrHumidity:    c.target,
		humidifier.AttrMinHumidity: c.cfg.MinHumidity,
		humidifier.AttrMaxHumidity: c.cfg.MaxHumidity,
		humidifier.AttrAction:      string(c.action()),
		humidifier.AttrDeviceClass: string(c.cfg.DeviceClass),
	}
	if c.current != nil {
		attrs[humidifier.AttrCurrentHumidity] = *c.current
	}
	if c.cfg.AwayHumidity != nil {
		mode := ModeNormal
		if c.away {
			mode = ModeAway
		}
		attrs[humidifier.AttrMode] = mode
		attrs[humidifier.AttrAvailableModes] = []any{ModeNormal, ModeAway}
	}

	if err := c.registry.SetState(ctx, c.cfg.EntityID, value, attrs); err != nil {
		c.logger.Error("publishing entity state",
			"entity", c.cfg.EntityID, "error", err)
	}
}
