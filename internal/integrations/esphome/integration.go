package esphome

import (
	"context"
	"fmt"
	"sync"

	"github.com/hearthd/hearth-core/internal/configentry"
	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/service"
)

// Domain is the integration's config entry domain.
const Domain = "esphome"

// Integration wires ESPHome config entries to running adapters and
// registers the switch domain services.
type Integration struct {
	broker   Broker
	registry *entity.Registry
	logger   Logger

	mu      sync.Mutex
	running map[string]*Adapter // by entry id
}

// NewIntegration creates the ESPHome integration.
func NewIntegration(broker Broker, registry *entity.Registry) *Integration {
	return &Integration{
		broker:   broker,
		registry: registry,
		logger:   noopLogger{},
		running:  make(map[string]*Adapter),
	}
}

// SetLogger sets the logger for the integration and its adapters.
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

func (i *Integration) setup(_ context.Context, entry *configentry.Entry) error {
	node, _ := entry.Data["node"].(string)
	if node == "" {
		return fmt.Errorf("esphome: entry %s: node is required", entry.ID)
	}
	discoveryPrefix, _ := entry.Data["discovery_prefix"].(string)
	if discoveryPrefix == "" {
		discoveryPrefix = "esphome/discovery"
	}

	adapter := NewAdapter(node, discoveryPrefix, entry.ID, i.broker, i.registry)
	adapter.SetLogger(i.logger)

	if err := adapter.Start(); err != nil {
		// Broker trouble is transient; ask for a retry.
		return fmt.Errorf("%w: %v", configentry.ErrSetupRetry, err)
	}

	i.mu.Lock()
	i.running[entry.ID] = adapter
	i.mu.Unlock()

	i.logger.Info("esphome node attached", "node", node, "entry", entry.ID)
	return nil
}

func (i *Integration) unload(ctx context.Context, entry *configentry.Entry) error {
	i.mu.Lock()
	adapter, ok := i.running[entry.ID]
	delete(i.running, entry.ID)
	i.mu.Unlock()

	if !ok {
		return nil
	}
	return adapter.Stop(ctx)
}

// RegisterServices registers switch.turn_on/turn_off/toggle, routed to
// whichever adapter owns the target entity.
func (i *Integration) RegisterServices(services *service.Registry) error {
	command := func(ctx context.Context, entityID string, on bool) error {
		adapter := i.adapterFor(entityID)
		if adapter == nil {
			return fmt.Errorf("%w: no esphome switch %s", entity.ErrEntityNotFound, entityID)
		}
		return adapter.CommandSwitch(ctx, entityID, on)
	}

	defs := []service.Definition{
		{
			Domain:  string(entity.DomainSwitch),
			Service: "turn_on",
			Handler: func(ctx context.Context, call service.Call) error {
				for _, id := range call.EntityIDs {
					if err := command(ctx, id, true); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Domain:  string(entity.DomainSwitch),
			Service: "turn_off",
			Handler: func(ctx context.Context, call service.Call) error {
				for _, id := range call.EntityIDs {
					if err := command(ctx, id, false); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Domain:  string(entity.DomainSwitch),
			Service: "toggle",
			Handler: func(ctx context.Context, call service.Call) error {
				for _, id := range call.EntityIDs {
					st, err := i.registry.GetState(ctx, id)
					if err != nil {
						return err
					}
					if err := command(ctx, id, st.Value != entity.StateOn); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}

	for _, def := range defs {
		if err := services.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (i *Integration) adapterFor(entityID string) *Adapter {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, adapter := range i.running {
		if adapter.HasEntity(entityID) {
			return adapter
		}
	}
	return nil
}
