// Package cache keeps recently built context packets keyed by their
// specification hash. Entries are immutable snapshots: a hit returns the
// packet exactly as it was built, and identical keys always map to
// identical packets, so concurrent writers can race without corrupting
// anything.
package cache

import (
	"sync"
	"time"

	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

// DefaultTTL bounds how long a packet may serve requests before the
// pipeline must rebuild it.
const DefaultTTL = 24 * time.Hour

// Cache stores assembled packets by specification hash.
type Cache interface {
	// Get returns the cached packet for key, if present and unexpired.
	Get(key string) (schemapacket.ContextPacket, bool)
	// Put stores a packet under key for at most ttl. A non-positive ttl
	// selects DefaultTTL.
	Put(key string, p schemapacket.ContextPacket, ttl time.Duration) error
	// Invalidate removes key if present. Removing an absent key is a no-op.
	Invalidate(key string)
}

type entry struct {
	packet    schemapacket.ContextPacket
	expiresAt time.Time
}

// Memory is an in-process Cache. Expired entries are evicted lazily on
// lookup; Sweep removes them eagerly.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewMemoryWithClock is for tests that need deterministic expiry.
func NewMemoryWithClock(now func() time.Time) *Memory {
	m := NewMemory()
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Memory) Get(key string) (schemapacket.ContextPacket, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return schemapacket.ContextPacket{}, false
	}
	if m.now().After(e.expiresAt) {
		m.Invalidate(key)
		return schemapacket.ContextPacket{}, false
	}
	return e.packet, true
}

func (m *Memory) Put(key string, p schemapacket.ContextPacket, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	m.entries[key] = entry{packet: p, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Sweep evicts every expired entry and reports how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, including any not yet swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
