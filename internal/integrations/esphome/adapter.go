package esphome

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
)

// Default ESPHome switch payloads.
const (
	defaultPayloadOn  = "ON"
	defaultPayloadOff = "OFF"
)

// Availability payloads published by the node's LWT.
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Broker is the MQTT surface the adapter needs. *mqtt.Client satisfies it.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the adapter.
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

// deviceConfig is the JSON discovery payload published by a node.
type deviceConfig struct {
	Name              string `json:"name"`
	StateTopic        string `json:"state_topic"`
	CommandTopic      string `json:"command_topic,omitempty"`
	AvailabilityTopic string `json:"availability_topic,omitempty"`
	Unit              string `json:"unit_of_measurement,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	PayloadOn         string `json:"payload_on,omitempty"`
	PayloadOff        string `json:"payload_off,omitempty"`
	Optimistic        bool   `json:"optimistic,omitempty"`
	UniqueID          string `json:"unique_id,omitempty"`
}

// device is one discovered entity and its topic bindings.
type device struct {
	entityID  string
	component entity.Domain
	cfg       deviceConfig
	online    bool
	lastState string
}

// Adapter bridges one ESPHome node to the entity registry.
//
// All public methods are thread-safe.
type Adapter struct {
	node            string
	discoveryPrefix string
	entryID         string

	broker   Broker
	registry *entity.Registry
	logger   Logger

	mu      sync.Mutex
	devices map[string]*device // by entity id
	byState map[string]*device // by state topic
	byAvail map[string][]*device
}

// NewAdapter creates an adapter for one node.
func NewAdapter(node, discoveryPrefix, entryID string, broker Broker, registry *entity.Registry) *Adapter {
	return &Adapter{
		node:            node,
		discoveryPrefix: discoveryPrefix,
		entryID:         entryID,
		broker:          broker,
		registry:        registry,
		logger:          noopLogger{},
		devices:         make(map[string]*device),
		byState:         make(map[string]*device),
		byAvail:         make(map[string][]*device),
	}
}

// SetLogger sets the logger for the adapter.
func (a *Adapter) SetLogger(logger Logger) {
	a.logger = logger
}

// Start subscribes to the node's discovery topics.
func (a *Adapter) Start() error {
	topic := fmt.Sprintf("%s/+/%s/+/config", a.discoveryPrefix, a.node)
	if err := a.broker.Subscribe(topic, 1, a.onDiscovery); err != nil {
		return fmt.Errorf("subscribing to discovery: %w", err)
	}
	return nil
}

// Stop unsubscribes everything and removes the node's entities.
func (a *Adapter) Stop(ctx context.Context) error {
	_ = a.broker.Unsubscribe(fmt.Sprintf("%s/+/%s/+/config", a.discoveryPrefix, a.node))

	a.mu.Lock()
	for topic := range a.byState {
		_ = a.broker.Unsubscribe(topic)
	}
	for topic := range a.byAvail {
		_ = a.broker.Unsubscribe(topic)
	}
	a.devices = make(map[string]*device)
	a.byState = make(map[string]*device)
	a.byAvail = make(map[string][]*device)
	a.mu.Unlock()

	return a.registry.RemoveByEntry(ctx, a.entryID)
}

// onDiscovery handles a config payload on
// <discovery_prefix>/{component}/{node}/{object_id}/config.
func (a *Adapter) onDiscovery(topic string, payload []byte) error {
	component, objectID, ok := a.parseDiscoveryTopic(topic)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entityID := entity.BuildID(component, a.node+"_"+objectID)

	if len(payload) == 0 {
		return a.removeDevice(ctx, entityID)
	}

	var cfg deviceConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return fmt.Errorf("decoding discovery payload on %s: %w", topic, err)
	}
	if cfg.StateTopic == "" {
		a.logger.Warn("discovery payload missing state_topic",
			"node", a.node, "topic", topic)
		return nil
	}
	if cfg.PayloadOn == "" {
		cfg.PayloadOn = defaultPayloadOn
	}
	if cfg.PayloadOff == "" {
		cfg.PayloadOff = defaultPayloadOff
	}
	if cfg.Name == "" {
		cfg.Name = objectID
	}

	return a.addDevice(ctx, entityID, component, cfg)
}

// parseDiscoveryTopic extracts component and object id, checking the
// node matches. ok is false for topics the adapter does not own.
func (a *Adapter) parseDiscoveryTopic(topic string) (entity.Domain, string, bool) {
	parts := strings.Split(topic, "/")
	// prefix may itself contain slashes; anchor on the trailing shape
	if len(parts) < 5 || parts[len(parts)-1] != "config" {
		return "", "", false
	}
	component := entity.Domain(parts[len(parts)-4])
	node := parts[len(parts)-3]
	objectID := parts[len(parts)-2]
	if node != a.node {
		return "", "", false
	}
	switch component {
	case entity.DomainSensor, entity.DomainBinarySensor, entity.DomainSwitch:
		return component, objectID, true
	default:
		a.logger.Debug("ignoring unsupported component",
			"node", a.node, "component", string(component))
		return "", "", false
	}
}

func (a *Adapter) addDevice(ctx context.Context, entityID string, component entity.Domain, cfg deviceConfig) error {
	a.mu.Lock()
	existing, known := a.devices[entityID]
	if known {
		// Re-announce: refresh config, drop old topic bindings
		delete(a.byState, existing.cfg.StateTopic)
		a.removeAvailBinding(existing)
	}
	dev := &device{entityID: entityID, component: component, cfg: cfg, online: true}
	a.devices[entityID] = dev
	a.byState[cfg.StateTopic] = dev
	if cfg.AvailabilityTopic != "" {
		a.byAvail[cfg.AvailabilityTopic] = append(a.byAvail[cfg.AvailabilityTopic], dev)
	}
	a.mu.Unlock()

	if !known {
		e := &entity.Entity{
			ID:            entityID,
			Name:          cfg.Name,
			Domain:        component,
			Platform:      Domain,
			ConfigEntryID: &a.entryID,
		}
		if cfg.Unit != "" {
			e.Unit = &cfg.Unit
		}
		if cfg.DeviceClass != "" {
			e.DeviceClass = &cfg.DeviceClass
		}
		if err := a.registry.Add(ctx, e); err != nil {
			return fmt.Errorf("registering %s: %w", entityID, err)
		}
		a.logger.Info("device discovered", "node", a.node, "entity", entityID)
	}

	if err := a.broker.Subscribe(cfg.StateTopic, 1, a.onState); err != nil {
		return fmt.Errorf("subscribing to state topic: %w", err)
	}
	if cfg.AvailabilityTopic != "" {
		if err := a.broker.Subscribe(cfg.AvailabilityTopic, 1, a.onAvailability); err != nil {
			return fmt.Errorf("subscribing to availability topic: %w", err)
		}
	}
	return nil
}

func (a *Adapter) removeDevice(ctx context.Context, entityID string) error {
	a.mu.Lock()
	dev, ok := a.devices[entityID]
	if ok {
		delete(a.devices, entityID)
		delete(a.byState, dev.cfg.StateTopic)
		a.removeAvailBinding(dev)
		_ = a.broker.Unsubscribe(dev.cfg.StateTopic)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}
	a.logger.Info("device removed", "node", a.node, "entity", entityID)
	return a.registry.Remove(ctx, entityID)
}

// removeAvailBinding drops a device from its availability topic list,
// unsubscribing when the list empties. Callers hold a.mu.
func (a *Adapter) removeAvailBinding(dev *device) {
	topic := dev.cfg.AvailabilityTopic
	if topic == "" {
		return
	}
	devs := a.byAvail[topic]
	for i, d := range devs {
		if d == dev {
			a.byAvail[topic] = append(devs[:i], devs[i+1:]...)
			break
		}
	}
	if len(a.byAvail[topic]) == 0 {
		delete(a.byAvail, topic)
		_ = a.broker.Unsubscribe(topic)
	}
}

// onState handles a state topic update.
func (a *Adapter) onState(topic string, payload []byte) error {
	a.mu.Lock()
	dev, ok := a.byState[topic]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	value := a.stateValue(dev, string(payload))
	dev.lastState = value
	online := dev.online
	entityID := dev.entityID
	a.mu.Unlock()

	if !online {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.registry.SetState(ctx, entityID, value, nil)
}

// stateValue maps a raw payload to an entity state value per component.
func (a *Adapter) stateValue(dev *device, payload string) string {
	switch dev.component {
	case entity.DomainBinarySensor, entity.DomainSwitch:
		switch payload {
		case dev.cfg.PayloadOn:
			return entity.StateOn
		case dev.cfg.PayloadOff:
			return entity.StateOff
		default:
			return entity.StateUnknown
		}
	default:
		return payload
	}
}

// onAvailability flips the bound entities to/from unavailable.
func (a *Adapter) onAvailability(topic string, payload []byte) error {
	online := string(payload) == payloadOnline
	if !online && string(payload) != payloadOffline {
		return nil
	}

	a.mu.Lock()
	type restore struct {
		entityID string
		state    string
	}
	var updates []restore
	for _, dev := range a.byAvail[topic] {
		dev.online = online
		if online {
			state := dev.lastState
			if state == "" {
				state = entity.StateUnknown
			}
			updates = append(updates, restore{dev.entityID, state})
		} else {
			updates = append(updates, restore{dev.entityID, entity.StateUnavailable})
		}
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, u := range updates {
		var err error
		if u.state == entity.StateUnavailable {
			err = a.registry.SetUnavailable(ctx, u.entityID)
		} else {
			err = a.registry.SetState(ctx, u.entityID, u.state, nil)
		}
		if err != nil {
			a.logger.Error("applying availability change",
				"entity", u.entityID, "error", err)
		}
	}
	return nil
}

// CommandSwitch publishes an on/off command for one of the adapter's
// switch entities. With the optimistic flag the local state is applied
// immediately instead of waiting for the state topic echo.
func (a *Adapter) CommandSwitch(ctx context.Context, entityID string, on bool) error {
	a.mu.Lock()
	dev, ok := a.devices[entityID]
	if !ok || dev.component != entity.DomainSwitch {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s is not a switch on node %s",
			entity.ErrEntityNotFound, entityID, a.node)
	}
	cfg := dev.cfg
	a.mu.Unlock()

	if cfg.CommandTopic == "" {
		return fmt.Errorf("esphome: %s has no command topic", entityID)
	}

	payload := cfg.PayloadOff
	state := entity.StateOff
	if on {
		payload = cfg.PayloadOn
		state = entity.StateOn
	}

	if err := a.broker.Publish(cfg.CommandTopic, []byte(payload), 1, false); err != nil {
		return fmt.Errorf("publishing switch command: %w", err)
	}

	if cfg.Optimistic {
		return a.registry.SetState(ctx, entityID, state, nil)
	}
	return nil
}

// HasEntity reports whether this adapter owns the entity.
func (a *Adapter) HasEntity(entityID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.devices[entityID]
	return ok
}
