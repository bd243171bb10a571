package entity

import (
	"strings"
	"time"
)

// State value sentinels shared by every domain.
const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
	StateOn          = "on"
	StateOff         = "off"
)

// Domain represents the functional family an entity belongs to.
// The domain determines which services apply and how state is read.
type Domain string

// Domain constants.
const (
	DomainSensor       Domain = "sensor"
	DomainBinarySensor Domain = "binary_sensor"
	DomainSwitch       Domain = "switch"
	DomainHumidifier   Domain = "humidifier"
	DomainClimate      Domain = "climate"
	DomainWaterHeater  Domain = "water_heater"
	DomainAlarmPanel   Domain = "alarm_control_panel"
	DomainUpdate       Domain = "update"
)

// AllDomains returns every valid domain value.
func AllDomains() []Domain {
	return []Domain{
		DomainSensor, DomainBinarySensor, DomainSwitch, DomainHumidifier,
		DomainClimate, DomainWaterHeater, DomainAlarmPanel, DomainUpdate,
	}
}

// Attributes holds the typed attribute bag serialized alongside the
// state value. Values are JSON-compatible (string, bool, float64,
// nested maps and slices).
type Attributes map[string]any

// State is the current condition of an entity: a short string value
// plus attributes. UpdatedAt advances on every write; ChangedAt only
// when the value itself changes.
type State struct {
	Value      string     `json:"state"`
	Attributes Attributes `json:"attributes,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ChangedAt  time.Time  `json:"changed_at"`
}

// IsAvailable reports whether the state represents a reachable entity.
func (s State) IsAvailable() bool {
	return s.Value != StateUnavailable
}

// Entity is one registered device feature.
type Entity struct {
	// ID is "domain.object_id" and immutable after Add.
	ID   string `json:"id"`
	Name string `json:"name"`

	// Classification
	Domain   Domain `json:"domain"`
	Platform string `json:"platform"` // owning integration

	// Ownership and location
	ConfigEntryID *string `json:"config_entry_id,omitempty"`
	AreaID        *string `json:"area_id,omitempty"`

	// Presentation
	Icon        *string `json:"icon,omitempty"`
	DeviceClass *string `json:"device_class,omitempty"`
	Unit        *string `json:"unit,omitempty"`

	// Device metadata
	Manufacturer *string `json:"manufacturer,omitempty"`
	Model        *string `json:"model,omitempty"`
	SWVersion    *string `json:"sw_version,omitempty"`

	Disabled bool `json:"disabled"`

	// Current state
	State State `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ObjectID returns the part of the id after the domain.
func (e *Entity) ObjectID() string {
	_, object, _ := SplitID(e.ID)
	return object
}

// DeepCopy creates an independent copy of the Entity. Attribute maps
// are cloned so mutations on the copy never reach the cache.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.State.Attributes = deepCopyAttributes(e.State.Attributes)
	// Pointer fields hold immutable strings; sharing them is safe.
	return &cpy
}

// deepCopyAttributes recursively clones an attribute map.
func deepCopyAttributes(a Attributes) Attributes {
	if a == nil {
		return nil
	}
	cpy := make(Attributes, len(a))
	for k, v := range a {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, item := range val {
			cpy[k] = deepCopyValue(item)
		}
		return cpy
	case Attributes:
		return map[string]any(deepCopyAttributes(val))
	case []any:
		cpy := make([]any, len(val))
		for i, item := range val {
			cpy[i] = deepCopyValue(item)
		}
		return cpy
	default:
		// Primitives are value types
		return v
	}
}

// BuildID joins a domain and object id into an entity id.
func BuildID(domain Domain, objectID string) string {
	return string(domain) + "." + objectID
}

// SplitID splits an entity id into domain and object id.
// ok is false if the id has no dot separator.
func SplitID(id string) (domain Domain, objectID string, ok bool) {
	idx := strings.IndexByte(id, '.')
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return Domain(id[:idx]), id[idx+1:], true
}

// DomainOf returns the domain part of an entity id ("" if malformed).
func DomainOf(id string) Domain {
	domain, _, _ := SplitID(id)
	return domain
}
