package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultCleanupInterval is how often the memory tier's janitor evicts
// expired items.
const DefaultCleanupInterval = time.Minute

// MemoryBackend is an in-process tier backed by go-cache.
// It is the default fast tier and doubles as a durable stand-in for tests
// and single-process deployments.
type MemoryBackend struct {
	items *gocache.Cache
}

// NewMemoryBackend creates an empty in-memory tier with the default janitor
// interval.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithCleanup(DefaultCleanupInterval)
}

// NewMemoryBackendWithCleanup creates an empty in-memory tier whose janitor
// runs every interval. An interval <= 0 disables the janitor; expired items
// are then only dropped when read.
func NewMemoryBackendWithCleanup(interval time.Duration) *MemoryBackend {
	return &MemoryBackend{items: gocache.New(gocache.NoExpiration, interval)}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	data, ok := v.([]byte)
	if !ok {
		m.items.Delete(key)
		return nil, ErrInvalidEntry
	}
	return append([]byte(nil), data...), nil
}

// Set implements Backend. A ttl <= 0 stores the value without expiry.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Close drops every item.
func (m *MemoryBackend) Close() error {
	m.items.Flush()
	return nil
}

// Len returns the number of stored items, including expired ones the
// janitor has not evicted yet.
func (m *MemoryBackend) Len() int {
	return m.items.ItemCount()
}

// MemoryRegistry is an in-process Registry with a single registry-wide TTL.
type MemoryRegistry struct {
	mu      sync.Mutex
	keys    map[string]struct{}
	expires time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{keys: make(map[string]struct{})}
}

// Add implements Registry.
func (r *MemoryRegistry) Add(_ context.Context, key string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	r.keys[key] = struct{}{}
	if ttl > 0 {
		r.expires = time.Now().Add(ttl)
	} else {
		r.expires = time.Time{}
	}
	return nil
}

// Remove implements Registry.
func (r *MemoryRegistry) Remove(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
	return nil
}

// Members implements Registry.
func (r *MemoryRegistry) Members(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	out := make([]string, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, k)
	}
	return out, nil
}

// Clear implements Registry.
func (r *MemoryRegistry) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = make(map[string]struct{})
	r.expires = time.Time{}
	return nil
}

func (r *MemoryRegistry) expireLocked() {
	if !r.expires.IsZero() && time.Now().After(r.expires) {
		r.keys = make(map[string]struct{})
		r.expires = time.Time{}
	}
}
