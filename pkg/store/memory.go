package store

import (
	"sync"
	"time"
)

// Memory is the in-process cache tier: a key to compressed-blob map whose total
// byte size never exceeds its configured capacity. A blob that does not fit the
// remaining space is simply not admitted; there is no eviction. Entries leave
// only through Delete and Clear (the rebalancer and the clear operation).
//
// TTLs are checked lazily on read. There is no background expiry sweep, so an
// expired entry keeps occupying capacity until the next Get touches it.
type Memory struct {
	entries  map[string]memoryEntry
	mu       sync.Mutex
	size     int64
	capacity int64
}

type memoryEntry struct {
	blob      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// NewMemory creates a memory tier bounded to capacity bytes of compressed data.
func NewMemory(capacity int64) *Memory {
	return &Memory{
		entries:  make(map[string]memoryEntry),
		capacity: capacity,
	}
}

// Put stores a compressed blob if it fits the remaining capacity, replacing any
// existing entry for the key. It reports whether the blob was admitted.
// A ttl of zero means the entry does not expire.
func (m *Memory) Put(key string, blob []byte, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.size
	if old, ok := m.entries[key]; ok {
		size -= int64(len(old.blob))
	}
	if size+int64(len(blob)) > m.capacity {
		return false
	}

	entry := memoryEntry{blob: blob}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.entries[key] = entry
	m.size = size + int64(len(blob))
	return true
}

// Get returns the compressed blob for key, dropping the entry if its TTL has
// passed.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired() {
		m.remove(key, entry)
		return nil, false
	}
	return entry.blob, true
}

// Delete removes key from the tier if present.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[key]; ok {
		m.remove(key, entry)
	}
}

// Clear empties the tier.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]memoryEntry)
	m.size = 0
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Size returns the total compressed bytes held by the tier.
func (m *Memory) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Snapshot returns a copy of the live entries, keyed by cache key. The
// rebalancer iterates this without holding the tier lock across network calls.
func (m *Memory) Snapshot() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]byte, len(m.entries))
	for key, entry := range m.entries {
		if entry.expired() {
			continue
		}
		out[key] = entry.blob
	}
	return out
}

// remove expects m.mu to be held.
func (m *Memory) remove(key string, entry memoryEntry) {
	delete(m.entries, key)
	m.size -= int64(len(entry.blob))
}
