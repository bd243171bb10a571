package hygrostat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/hearthd/hearth-core/internal/domains/humidifier"
	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// memRepo is a minimal in-memory entity.Repository.
type memRepo struct {
	mu       sync.Mutex
	entities map[string]*entity.Entity
}

func newMemRepo() *memRepo {
	return &memRepo{entities: make(map[string]*entity.Entity)}
}

func (m *memRepo) GetByID(_ context.Context, id string) (*entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, entity.ErrEntityNotFound
	}
	return e.DeepCopy(), nil
}

func (m *memRepo) List(context.Context) ([]entity.Entity, error) { return nil, nil }
func (m *memRepo) ListByDomain(context.Context, entity.Domain) ([]entity.Entity, error) {
	return nil, nil
}
func (m *memRepo) ListByPlatform(context.Context, string) ([]entity.Entity, error) { return nil, nil }
func (m *memRepo) ListByEntry(context.Context, string) ([]entity.Entity, error)    { return nil, nil }
func (m *memRepo) ListByArea(context.Context, string) ([]entity.Entity, error)     { return nil, nil }

func (m *memRepo) Create(_ context.Context, e *entity.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entities[e.ID]; exists {
		return entity.ErrEntityExists
	}
	m.entities[e.ID] = e.DeepCopy()
	return nil
}

func (m *memRepo) Update(_ context.Context, e *entity.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e.DeepCopy()
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, id)
	return nil
}

func (m *memRepo) DeleteByEntry(context.Context, string) ([]string, error) { return nil, nil }

func (m *memRepo) UpdateState(_ context.Context, id string, state entity.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return entity.ErrEntityNotFound
	}
	e.State = state
	return nil
}

// switchRecorder registers switch.turn_on/turn_off and records commands.
type switchRecorder struct {
	mu       sync.Mutex
	commands []string
}

func (s *switchRecorder) register(t *testing.T, services *service.Registry) {
	t.Helper()
	for _, svc := range []string{"turn_on", "turn_off"} {
		svc := svc
		err := services.Register(service.Definition{
			Domain:  "switch",
			Service: svc,
			Handler: func(context.Context, service.Call) error {
				s.mu.Lock()
				s.commands = append(s.commands, svc)
				s.mu.Unlock()
				return nil
			},
		})
		if err != nil {
			t.Fatalf("registering switch service: %v", err)
		}
	}
}

func (s *switchRecorder) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *switchRecorder) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commands) == 0 {
		return ""
	}
	return s.commands[len(s.commands)-1]
}

type fixture struct {
	controller *Controller
	registry   *entity.Registry
	switches   *switchRecorder
	clock      *testclock.Clock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := newMemRepo()
	registry := entity.NewRegistry(repo, nil)
	services := service.NewRegistry(nil)
	switches := &switchRecorder{}
	switches.register(t, services)

	for _, e := range []*entity.Entity{
		{ID: cfg.EntityID, Name: "Hygrostat", Domain: entity.DomainHumidifier, Platform: Domain},
		{ID: cfg.SensorEntity, Name: "Sensor", Domain: entity.DomainSensor, Platform: "esphome"},
		{ID: cfg.SwitchEntity, Name: "Switch", Domain: entity.DomainSwitch, Platform: "esphome"},
	} {
		if err := registry.Add(ctx, e); err != nil {
			t.Fatalf("adding %s: %v", e.ID, err)
		}
	}

	clk := testclock.NewClock(time.Now())
	ctrl := NewController(cfg, registry, services, clk)
	return &fixture{controller: ctrl, registry: registry, switches: switches, clock: clk}
}

func baseConfig() Config {
	return Config{
		Name:           "Cellar",
		EntityID:       "humidifier.cellar",
		SwitchEntity:   "switch.cellar_humidifier",
		SensorEntity:   "sensor.cellar_humidity",
		DeviceClass:    humidifier.ClassHumidifier,
		TargetHumidity: 50,
		DryTolerance:   3,
		WetTolerance:   3,
		InitialOn:      true,
	}
}

func TestControlLawHumidifier(t *testing.T) {
	f := newFixture(t, baseConfig())
	c := f.controller

	// Too dry: target 50, current 45, deficit 5 >= 3 -> on
	c.onSensorState("45")
	if got := f.switches.last(); got != "turn_on" {
		t.Fatalf("command = %q, want turn_on when too dry", got)
	}

	// Within band: 49 -> no new command
	before := len(f.switches.all())
	c.onSensorState("49")
	if got := len(f.switches.all()); got != before {
		t.Errorf("commands = %d, want unchanged inside tolerance band", got)
	}

	// Too wet: 54, excess 4 >= 3 -> off
	c.onSensorState("54")
	if got := f.switches.last(); got != "turn_off" {
		t.Errorf("command = %q, want turn_off when too wet", got)
	}
}

func TestControlLawDehumidifier(t *testing.T) {
	cfg := baseConfig()
	cfg.DeviceClass = humidifier.ClassDehumidifier
	f := newFixture(t, cfg)
	c := f.controller

	// Too wet: current 55, excess 5 >= wet_tolerance -> on
	c.onSensorState("55")
	if got := f.switches.last(); got != "turn_on" {
		t.Fatalf("command = %q, want turn_on when too wet", got)
	}

	// Too dry: current 46, deficit 4 >= dry_tolerance -> off
	c.onSensorState("46")
	if got := f.switches.last(); got != "turn_off" {
		t.Errorf("command = %q, want turn_off when too dry", got)
	}
}

func TestMinCycleDebounce(t *testing.T) {
	cfg := baseConfig()
	cfg.MinCycleDuration = 10 * time.Minute
	f := newFixture(t, cfg)
	c := f.controller

	c.onSensorState("45") // on
	if got := f.switches.last(); got != "turn_on" {
		t.Fatalf("command = %q, want turn_on", got)
	}

	// Wants off, but the switch just toggled: suppressed
	c.onSensorState("60")
	if got := f.switches.last(); got != "turn_on" {
		t.Errorf("command = %q, debounce should suppress turn_off", got)
	}

	// After the cycle window the pending condition applies
	f.clock.Advance(cfg.MinCycleDuration)
	c.onSensorState("60")
	if got := f.switches.last(); got != "turn_off" {
		t.Errorf("command = %q, want turn_off after min cycle", got)
	}
}

func TestExplicitTurnOffBypassesDebounce(t *testing.T) {
	cfg := baseConfig()
	cfg.MinCycleDuration = 10 * time.Minute
	f := newFixture(t, cfg)
	c := f.controller
	ctx := context.Background()

	c.onSensorState("45") // on
	if err := c.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	if got := f.switches.last(); got != "turn_off" {
		t.Errorf("command = %q, explicit turn_off must bypass debounce", got)
	}
	if c.IsOn() {
		t.Error("controller still on after TurnOff")
	}
}

func TestSetHumidityReevaluates(t *testing.T) {
	f := newFixture(t, baseConfig())
	c := f.controller
	ctx := context.Background()

	c.onSensorState("49") // inside band, no command
	if got := len(f.switches.all()); got != 0 {
		t.Fatalf("commands = %d, want 0", got)
	}

	// Raising the target makes the deficit 56-49=7 >= 3
	if err := c.SetHumidity(ctx, 56); err != nil {
		t.Fatalf("SetHumidity() error = %v", err)
	}
	if got := f.switches.last(); got != "turn_on" {
		t.Errorf("command = %q, want turn_on after target raise", got)
	}
}

func TestStaleSensor(t *testing.T) {
	cfg := baseConfig()
	cfg.SensorStaleDuration = 15 * time.Minute
	f := newFixture(t, cfg)
	c := f.controller
	ctx := context.Background()

	c.onSensorState("45") // on
	f.clock.Advance(16 * time.Minute)

	c.mu.Lock()
	c.checkStale(ctx, f.clock.Now())
	c.publish(ctx)
	c.mu.Unlock()

	if got := f.switches.last(); got != "turn_off" {
		t.Errorf("command = %q, want turn_off on stale sensor", got)
	}
	st, err := f.registry.GetState(ctx, cfg.EntityID)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if st.Value != entity.StateUnavailable {
		t.Errorf("entity state = %q, want unavailable", st.Value)
	}

	// Recovery on the next valid reading
	c.onSensorState("44")
	st, err = f.registry.GetState(ctx, cfg.EntityID)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if st.Value != entity.StateOn {
		t.Errorf("entity state = %q, want on after recovery", st.Value)
	}
	if got := f.switches.last(); got != "turn_on" {
		t.Errorf("command = %q, want turn_on after recovery", got)
	}
}

func TestUnparseableReadingIgnored(t *testing.T) {
	f := newFixture(t, baseConfig())
	c := f.controller

	c.onSensorState("45") // on
	before := len(f.switches.all())

	for _, junk := range []string{"soggy", "", "NaN", "+Inf", "unknown", "unavailable"} {
		c.onSensorState(junk)
	}
	if got := len(f.switches.all()); got != before {
		t.Errorf("commands = %d, want unchanged after junk readings", got)
	}
	if c.current == nil || *c.current != 45 {
		t.Error("last good reading should be retained")
	}
}

func TestAwayMode(t *testing.T) {
	cfg := baseConfig()
	away := 35.0
	cfg.AwayHumidity = &away
	f := newFixture(t, cfg)
	c := f.controller
	ctx := context.Background()

	if c.Features()&humidifier.SupportsModes == 0 {
		t.Fatal("away preset should enable mode support")
	}

	if err := c.SetMode(ctx, ModeAway); err != nil {
		t.Fatalf("SetMode(away) error = %v", err)
	}
	if c.target != 35 {
		t.Errorf("target = %v, want away preset 35", c.target)
	}

	if err := c.SetMode(ctx, ModeNormal); err != nil {
		t.Fatalf("SetMode(normal) error = %v", err)
	}
	if c.target != 50 {
		t.Errorf("target = %v, want restored home target 50", c.target)
	}
}

func TestAwayFixedRedirectsSetHumidity(t *testing.T) {
	cfg := baseConfig()
	away := 35.0
	cfg.AwayHumidity = &away
	cfg.AwayFixed = true
	f := newFixture(t, cfg)
	c := f.controller
	ctx := context.Background()

	if err := c.SetMode(ctx, ModeAway); err != nil {
		t.Fatalf("SetMode(away) error = %v", err)
	}
	if err := c.SetHumidity(ctx, 60); err != nil {
		t.Fatalf("SetHumidity() error = %v", err)
	}
	if c.target != 35 {
		t.Errorf("active target = %v, want unchanged away preset", c.target)
	}
	if c.savedTarget != 60 {
		t.Errorf("saved target = %v, want 60", c.savedTarget)
	}

	if err := c.SetMode(ctx, ModeNormal); err != nil {
		t.Fatalf("SetMode(normal) error = %v", err)
	}
	if c.target != 60 {
		t.Errorf("target = %v, want updated home target 60", c.target)
	}
}

func TestActionAttribute(t *testing.T) {
	f := newFixture(t, baseConfig())
	c := f.controller
	ctx := context.Background()

	c.onSensorState("45") // humidifying
	st, err := f.registry.GetState(ctx, "humidifier.cellar")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if st.Attributes[humidifier.AttrAction] != string(humidifier.ActionHumidifying) {
		t.Errorf("action = %v, want humidifying", st.Attributes[humidifier.AttrAction])
	}
	if st.Attributes[humidifier.AttrCurrentHumidity] != 45.0 {
		t.Errorf("current_humidity = %v, want 45", st.Attributes[humidifier.AttrCurrentHumidity])
	}

	if err := c.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	st, _ = f.registry.GetState(ctx, "humidifier.cellar")
	if st.Attributes[humidifier.AttrAction] != string(humidifier.ActionOff) {
		t.Errorf("action = %v, want off", st.Attributes[humidifier.AttrAction])
	}
}
