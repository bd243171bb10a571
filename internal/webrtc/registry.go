package webrtc

import "sync"

// Server is one ICE server entry in RTCConfiguration shape.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Provider returns the ICE servers an integration can currently offer.
// Providers are called on every read and must be fast.
type Provider func() []Server

// Registry aggregates static ICE servers with provider results.
//
// All methods are thread-safe. Servers() output order is stable:
// static servers first, then providers in registration order.
type Registry struct {
	mu        sync.Mutex
	static    []Server
	providers []*providerEntry
	nextID    int
}

type providerEntry struct {
	id int
	fn Provider
}

// NewRegistry creates a registry seeded with static servers.
func NewRegistry(static []Server) *Registry {
	return &Registry{static: static}
}

// RegisterProvider adds a provider and returns an unregister function.
func (r *Registry) RegisterProvider(fn Provider) func() {
	r.mu.Lock()
	entry := &providerEntry{id: r.nextID, fn: fn}
	r.nextID++
	r.providers = append(r.providers, entry)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, p := range r.providers {
			if p.id == entry.id {
				r.providers = append(r.providers[:i], r.providers[i+1:]...)
				return
			}
		}
	}
}

// Servers returns the current ICE server list.
func (r *Registry) Servers() []Server {
	r.mu.Lock()
	providers := make([]*providerEntry, len(r.providers))
	copy(providers, r.providers)
	servers := make([]Server, len(r.static))
	copy(servers, r.static)
	r.mu.Unlock()

	for _, p := range providers {
		servers = append(servers, p.fn()...)
	}
	return servers
}
