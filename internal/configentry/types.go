package configentry

import "time"

// State is an entry's lifecycle state.
type State string

// Lifecycle states.
const (
	StateNotLoaded      State = "not_loaded"
	StateLoaded         State = "loaded"
	StateSetupError     State = "setup_error"
	StateSetupRetry     State = "setup_retry"
	StateMigrationError State = "migration_error"
	StateFailedUnload   State = "failed_unload"
)

// Entry is one configured integration instance.
type Entry struct {
	ID      string `json:"id"`
	Domain  string `json:"domain"`
	Title   string `json:"title"`
	Version int    `json:"version"`

	// UniqueID deduplicates entries per domain (device serial, MAC,
	// account id). Nil means no dedupe for this entry.
	UniqueID *string `json:"unique_id,omitempty"`

	// Data is the integration-specific configuration payload.
	Data map[string]any `json:"data"`

	State       State   `json:"state"`
	StateReason *string `json:"state_reason,omitempty"`
	Disabled    bool    `json:"disabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Loaded reports whether the entry is currently set up.
func (e *Entry) Loaded() bool {
	return e.State == StateLoaded
}

// DeepCopy creates an independent copy of the Entry.
func (e *Entry) DeepCopy() *Entry {
	if e == nil {
		return nil
	}
	cpy := *e
	if e.Data != nil {
		cpy.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			cpy.Data[k] = deepCopyValue(v)
		}
	}
	return &cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, item := range val {
			cpy[k] = deepCopyValue(item)
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, item := range val {
			cpy[i] = deepCopyValue(item)
		}
		return cpy
	default:
		return v
	}
}
