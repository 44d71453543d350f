// Package cache holds the in-process TTL cache used for just-ingested events.
package cache

import (
	"context"
	"sync"
	"time"
)

type item struct {
	value     any
	expiresAt time.Time
}

// Memory is an in-memory cache with per-key expiry. Expired entries are
// hidden from Get immediately and removed by a periodic sweep.
type Memory struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a cache that sweeps expired entries every sweepInterval.
// A non-positive interval disables the background sweep.
func NewMemory(sweepInterval time.Duration) *Memory {
	m := &Memory{
		items: make(map[string]item),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if sweepInterval > 0 {
		go m.sweepLoop(sweepInterval)
	}
	return m
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

// Set stores value under key for ttl.
func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = item{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Get returns the value stored under key if it has not expired.
func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[key]
	if !ok || !m.now().Before(it.expiresAt) {
		return nil, false, nil
	}
	return it.value, true, nil
}

// Delete removes key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for k, it := range m.items {
		if !now.Before(it.expiresAt) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Close stops the background sweep.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}
