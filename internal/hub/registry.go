// Package hub implements the per-product broadcast fan-out: a registry of
// lazily created channels, each holding the set of sinks currently
// subscribed to one product's event stream.
package hub

import (
	"sync"
	"sync/atomic"
)

// Metrics aggregates fan-out counters across all channels.
type Metrics struct {
	channels    atomic.Int64
	subscribers atomic.Int64
	published   atomic.Int64
	deliveries  atomic.Int64
	pruned      atomic.Int64
}

// Snapshot returns the counters in a form suitable for the metrics endpoint.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"channels":         m.channels.Load(),
		"subscribers":      m.subscribers.Load(),
		"events_published": m.published.Load(),
		"deliveries":       m.deliveries.Load(),
		"sinks_pruned":     m.pruned.Load(),
	}
}

// Registry maps a resource id to its broadcast channel. Channels are created
// on first reference and live for the process lifetime; there is no
// eviction, an accepted bound for a catalog-sized id space.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	metrics  Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Channel returns the broadcast channel for resourceID, creating it if
// absent. It never fails and never blocks beyond the registry lock.
func (r *Registry) Channel(resourceID string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[resourceID]
	if !ok {
		c = newChannel(resourceID, &r.metrics)
		r.channels[resourceID] = c
		r.metrics.channels.Add(1)
	}
	return c
}

// Metrics exposes the registry-wide fan-out counters.
func (r *Registry) Metrics() map[string]any {
	return r.metrics.Snapshot()
}
