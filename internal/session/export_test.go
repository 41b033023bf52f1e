package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps the snapshot as raw bytes
type MemoryStore struct {
	mu   sync.Mutex
	raw  []byte
	now  func() time.Time
	save int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Save(s *State) error {
	data, err := json.Marshal(stamp(s, m.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	m.mu.Lock()
	m.raw = data
	m.save++
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raw == nil {
		return nil
	}
	return decode(m.raw)
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.raw = nil
	m.mu.Unlock()
	return nil
}

// SetRaw replaces the slot contents verbatim
func (m *MemoryStore) SetRaw(data []byte) {
	m.mu.Lock()
	m.raw = append([]byte(nil), data...)
	m.mu.Unlock()
}

// Saves returns how many times Save succeeded
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save
}
