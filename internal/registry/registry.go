// Package registry provides a concurrency-safe keyed registry with
// creation-on-demand and inactivity eviction. It backs the per-composite-key
// state of the substrate (isolation contexts, per-pair discovery engines)
// instead of a process-wide mutable map.
package registry

import (
	"sync"
	"time"
)

// Registry holds values keyed by string with last-access tracking.
type Registry[V any] struct {
	mu      sync.RWMutex
	items   map[string]*entry[V]
	idleTTL time.Duration
	now     func() time.Time
}

type entry[V any] struct {
	value      V
	lastAccess time.Time
}

// Option configures a Registry.
type Option[V any] func(*Registry[V])

// WithClock injects a clock, used by tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(r *Registry[V]) { r.now = now }
}

// New creates a registry. idleTTL of zero disables eviction.
func New[V any](idleTTL time.Duration, opts ...Option[V]) *Registry[V] {
	r := &Registry[V]{
		items:   make(map[string]*entry[V]),
		idleTTL: idleTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the value for key and whether it exists, refreshing its
// last-access time.
func (r *Registry[V]) Get(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.lastAccess = r.now()
	return e.value, true
}

// GetOrCreate returns the existing value for key, or stores and returns the
// value produced by factory. The factory runs under the registry lock so a
// key is created exactly once.
func (r *Registry[V]) GetOrCreate(key string, factory func() V) V {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.items[key]; ok {
		e.lastAccess = r.now()
		return e.value
	}
	v := factory()
	r.items[key] = &entry[V]{value: v, lastAccess: r.now()}
	return v
}

// Put stores a value, replacing any existing entry.
func (r *Registry[V]) Put(key string, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = &entry[V]{value: value, lastAccess: r.now()}
}

// Remove deletes a key.
func (r *Registry[V]) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
}

// Len returns the number of live entries.
func (r *Registry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Range calls fn for every entry. fn must not call back into the registry.
func (r *Registry[V]) Range(fn func(key string, value V) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, e := range r.items {
		if !fn(k, e.value) {
			return
		}
	}
}

// EvictIdle removes entries idle longer than the configured TTL and
// returns the evicted keys.
func (r *Registry[V]) EvictIdle() []string {
	if r.idleTTL <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	var evicted []string
	for k, e := range r.items {
		if e.lastAccess.Before(cutoff) {
			delete(r.items, k)
			evicted = append(evicted, k)
		}
	}
	return evicted
}
