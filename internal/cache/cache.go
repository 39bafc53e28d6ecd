// Package cache holds short-lived string lookups such as display names.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/glimpse/backend/internal/logging"
)

// Store is a string key/value cache with a fixed entry lifetime.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type entry struct {
	value   string
	expires time.Time
}

// Memory is a TTL cache held in process memory.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]entry
}

// NewMemory returns a memory cache whose entries live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Memory{ttl: ttl, now: time.Now, items: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.items[key] = entry{value: value, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

// LoadFunc fetches the authoritative value for key.
type LoadFunc func(ctx context.Context, key string) (string, error)

// ReadThrough serves lookups from a Store and falls back to a loader on a
// miss. A failing cache is logged and bypassed.
type ReadThrough struct {
	store  Store
	prefix string
	load   LoadFunc
}

// NewReadThrough wraps load with store. Keys are namespaced by prefix.
func NewReadThrough(store Store, prefix string, load LoadFunc) *ReadThrough {
	return &ReadThrough{store: store, prefix: prefix, load: load}
}

// Get returns the cached value for key, loading and caching it on a miss.
func (r *ReadThrough) Get(ctx context.Context, key string) (string, error) {
	cacheKey := r.prefix + key
	if r.store != nil {
		value, ok, err := r.store.Get(ctx, cacheKey)
		if err != nil {
			logging.FromContext(ctx).Warn("cache read failed", slog.String("key", cacheKey), slog.Any("error", err))
		} else if ok {
			return value, nil
		}
	}

	value, err := r.load(ctx, key)
	if err != nil {
		return "", err
	}

	if r.store != nil {
		if err := r.store.Set(ctx, cacheKey, value); err != nil {
			logging.FromContext(ctx).Warn("cache write failed", slog.String("key", cacheKey), slog.Any("error", err))
		}
	}
	return value, nil
}
