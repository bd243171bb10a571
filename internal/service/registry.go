package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hearthd/hearth-core/internal/bus"
)

// Logger defines the logging interface used by the Registry.
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

// FieldType is the expected JSON type of a service call field.
type FieldType string

// Field types.
const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
)

// Field describes one accepted key in a service call payload.
type Field struct {
	Type        FieldType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`

	// Numeric bounds, applied when Type is number.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Values restricts a string field to an allowed set.
	Values []string `json:"values,omitempty"`
}

// Call is one service invocation.
type Call struct {
	Domain    string         `json:"domain"`
	Service   string         `json:"service"`
	Data      map[string]any `json:"data,omitempty"`
	EntityIDs []string       `json:"entity_ids,omitempty"`
}

// Handler executes a validated service call.
type Handler func(ctx context.Context, call Call) error

// Definition is a registered service: schema plus handler.
type Definition struct {
	Domain      string           `json:"domain"`
	Service     string           `json:"service"`
	Description string           `json:"description,omitempty"`
	Fields      map[string]Field `json:"fields,omitempty"`
	Handler     Handler          `json:"-"`
}

func (d Definition) key() string {
	return d.Domain + "." + d.Service
}

// Registry holds registered services and dispatches calls.
//
// All public methods are thread-safe. Handlers run synchronously on the
// caller's goroutine; slow handlers should honour ctx cancellation.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Definition
	events   *bus.Bus
	logger   Logger
}

// NewRegistry creates a service registry. events may be nil in tests.
func NewRegistry(events *bus.Bus) *Registry {
	return &Registry{
		services: make(map[string]Definition),
		events:   events,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a service definition.
// Returns ErrServiceExists if domain+service is already taken.
func (r *Registry) Register(def Definition) error {
	if def.Domain == "" || def.Service == "" {
		return fmt.Errorf("%w: domain and service are required", ErrInvalidCall)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: handler is required", ErrInvalidCall)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := def.key()
	if _, exists := r.services[key]; exists {
		return fmt.Errorf("%w: %s", ErrServiceExists, key)
	}
	r.services[key] = def

	r.logger.Debug("service registered", "service", key)
	return nil
}

// Unregister removes a service. Unknown services are ignored so
// integration teardown stays idempotent.
func (r *Registry) Unregister(domain, service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, domain+"."+service)
}

// UnregisterDomain removes every service in a domain.
func (r *Registry) UnregisterDomain(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, def := range r.services {
		if def.Domain == domain {
			delete(r.services, key)
		}
	}
}

// List returns all registered services sorted by domain.service.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.services))
	for _, def := range r.services {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].key() < defs[j].key()
	})
	return defs
}

// Call validates and dispatches a service call.
//
// Returns ErrServiceNotFound for an unknown service and ErrInvalidCall
// for a payload that fails the field schema. On success a
// service_called event is published.
func (r *Registry) Call(ctx context.Context, call Call) error {
	r.mu.RLock()
	def, ok := r.services[call.Domain+"."+call.Service]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrServiceNotFound, call.Domain, call.Service)
	}

	if err := validateCall(def, call); err != nil {
		return err
	}

	if err := def.Handler(ctx, call); err != nil {
		return fmt.Errorf("calling %s.%s: %w", call.Domain, call.Service, err)
	}

	if r.events != nil {
		r.events.PublishServiceCalled(bus.ServiceCalled{
			Domain:    call.Domain,
			Service:   call.Service,
			Data:      call.Data,
			EntityIDs: call.EntityIDs,
		})
	}

	r.logger.Info("service called",
		"service", call.Domain+"."+call.Service,
		"entities", len(call.EntityIDs))
	return nil
}

// validateCall checks a call payload against the field schema.
func validateCall(def Definition, call Call) error {
	// Required fields present?
	for name, field := range def.Fields {
		if field.Required {
			if _, ok := call.Data[name]; !ok {
				return fmt.Errorf("%w: missing required field %q", ErrInvalidCall, name)
			}
		}
	}

	for name, value := range call.Data {
		field, ok := def.Fields[name]
		if !ok {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidCall, name)
		}
		if err := validateField(name, field, value); err != nil {
			return err
		}
	}

	return nil
}

func validateField(name string, field Field, value any) error {
	switch field.Type {
	case FieldString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: field %q must be a string", ErrInvalidCall, name)
		}
		if len(field.Values) > 0 {
			for _, allowed := range field.Values {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("%w: field %q value %q not in %v",
				ErrInvalidCall, name, s, field.Values)
		}
	case FieldNumber:
		n, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("%w: field %q must be a number", ErrInvalidCall, name)
		}
		if field.Min != nil && n < *field.Min {
			return fmt.Errorf("%w: field %q below minimum %v", ErrInvalidCall, name, *field.Min)
		}
		if field.Max != nil && n > *field.Max {
			return fmt.Errorf("%w: field %q above maximum %v", ErrInvalidCall, name, *field.Max)
		}
	case FieldBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: field %q must be a boolean", ErrInvalidCall, name)
		}
	case FieldObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("%w: field %q must be an object", ErrInvalidCall, name)
		}
	}
	return nil
}

// toFloat accepts the numeric types JSON decoding and Go callers produce.
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
