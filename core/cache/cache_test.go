package cache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

func testPacket(id string) schemapacket.ContextPacket {
	return schemapacket.ContextPacket{
		SchemaID:      schemapacket.SchemaID,
		SchemaVersion: schemapacket.SchemaVersion,
		PacketID:      id,
		SpecHash:      strings.Repeat("a", 64),
		Privacy:       schemapacket.PrivacyLocalOnly,
	}
}

func TestMemoryGetPut(t *testing.T) {
	m := NewMemory()
	key := strings.Repeat("a", 64)

	if _, ok := m.Get(key); ok {
		t.Fatalf("expected miss on empty cache")
	}
	if err := m.Put(key, testPacket("p1"), time.Minute); err != nil {
		t.Fatalf("put error: %v", err)
	}
	got, ok := m.Get(key)
	if !ok || got.PacketID != "p1" {
		t.Fatalf("expected hit for p1, got ok=%v packet=%+v", ok, got)
	}
}

func TestMemoryExpiry(t *testing.T) {
	current := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	m := NewMemoryWithClock(now)
	key := strings.Repeat("b", 64)

	if err := m.Put(key, testPacket("p1"), time.Hour); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, ok := m.Get(key); !ok {
		t.Fatalf("expected hit before expiry")
	}

	mu.Lock()
	current = current.Add(2 * time.Hour)
	mu.Unlock()
	if _, ok := m.Get(key); ok {
		t.Fatalf("expected miss after expiry")
	}
	if m.Len() != 0 {
		t.Fatalf("expired lookup must evict, have %d entries", m.Len())
	}
}

func TestMemorySweep(t *testing.T) {
	current := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryWithClock(func() time.Time { return current })

	for i := 0; i < 3; i++ {
		key := strings.Repeat(fmt.Sprintf("%d", i), 64)
		if err := m.Put(key, testPacket(fmt.Sprintf("p%d", i)), time.Duration(i+1)*time.Hour); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
	current = current.Add(150 * time.Minute)
	if removed := m.Sweep(); removed != 2 {
		t.Fatalf("expected 2 evictions, got %d", removed)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, have %d", m.Len())
	}
}

func TestMemoryDefaultTTL(t *testing.T) {
	current := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryWithClock(func() time.Time { return current })
	key := strings.Repeat("c", 64)

	if err := m.Put(key, testPacket("p1"), 0); err != nil {
		t.Fatalf("put error: %v", err)
	}
	current = current.Add(DefaultTTL - time.Minute)
	if _, ok := m.Get(key); !ok {
		t.Fatalf("expected hit inside default ttl")
	}
	current = current.Add(2 * time.Minute)
	if _, ok := m.Get(key); ok {
		t.Fatalf("expected miss past default ttl")
	}
}

func TestMemoryInvalidate(t *testing.T) {
	m := NewMemory()
	key := strings.Repeat("d", 64)

	m.Invalidate(key) // absent key is a no-op

	if err := m.Put(key, testPacket("p1"), time.Minute); err != nil {
		t.Fatalf("put error: %v", err)
	}
	m.Invalidate(key)
	if _, ok := m.Get(key); ok {
		t.Fatalf("expected miss after invalidation")
	}
}

func TestMemoryConcurrentWriters(t *testing.T) {
	m := NewMemory()
	key := strings.Repeat("e", 64)
	p := testPacket("same")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Put(key, p, time.Minute)
			_, _ = m.Get(key)
		}()
	}
	wg.Wait()

	got, ok := m.Get(key)
	if !ok || got.PacketID != "same" {
		t.Fatalf("expected single coherent entry, got ok=%v packet=%+v", ok, got)
	}
	if m.Len() != 1 {
		t.Fatalf("expected exactly one entry, have %d", m.Len())
	}
}
