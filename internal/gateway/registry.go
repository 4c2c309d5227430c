package gateway

import (
	"sort"
	"sync"
	"time"
)

// Registry is the in-memory table of known gateways, keyed by gateway device
// id. It is owned by Discovery; other components read snapshots via List.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Upsert merges a gateway into the registry. An existing entry with the same
// id is replaced, so the same gateway seen at a new URL keeps a single entry.
// The returned value is the stored copy.
func (r *Registry) Upsert(gw Gateway) Gateway {
	if gw.ID == "" {
		return gw
	}
	if gw.DiscoveredAt.IsZero() {
		gw.DiscoveredAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[gw.ID] = gw
	return gw
}

// Get returns the entry for a gateway id.
func (r *Registry) Get(id string) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[id]
	return gw, ok
}

// FindByURL returns the entry whose normalized URL matches url.
func (r *Registry) FindByURL(url string) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, gw := range r.gateways {
		if gw.URL == url {
			return gw, true
		}
	}
	return Gateway{}, false
}

// List returns a snapshot of all entries, most recently discovered first.
func (r *Registry) List() []Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Gateway, 0, len(r.gateways))
	for _, gw := range r.gateways {
		list = append(list, gw)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].DiscoveredAt.After(list[j].DiscoveredAt)
	})
	return list
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.gateways)
}
