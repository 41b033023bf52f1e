package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// SnapshotFunc returns the state to persist, or nil when nothing is worth saving
type SnapshotFunc func() *State

// Mirror periodically copies a snapshot into a Store. Unchanged snapshots are
// not rewritten.
type Mirror struct {
	store    Store
	snapshot SnapshotFunc
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last []byte
}

// NewMirror creates a mirror writing snapshot() into store every interval
func NewMirror(store Store, snapshot SnapshotFunc, interval time.Duration, logger *slog.Logger) *Mirror {
	return &Mirror{
		store:    store,
		snapshot: snapshot,
		interval: interval,
		logger:   logger,
	}
}

// Run saves on every tick until ctx is done, then makes one final
// best-effort save of a non-nil snapshot.
func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.final()
			return
		case <-ticker.C:
			if _, err := m.Flush(); err != nil {
				m.logger.Warn("Session save failed", "error", err)
			}
		}
	}
}

// Flush saves the current snapshot if it differs from the last one written.
// It reports whether a write happened.
func (m *Mirror) Flush() (bool, error) {
	s := m.snapshot()
	if s == nil {
		return false, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if bytes.Equal(data, m.last) {
		return false, nil
	}
	if err := m.store.Save(s); err != nil {
		return false, err
	}
	m.last = data
	return true, nil
}

func (m *Mirror) final() {
	s := m.snapshot()
	if s == nil {
		return
	}
	if err := m.store.Save(s); err != nil {
		m.logger.Warn("Final session save failed", "error", err)
		return
	}
	m.logger.Debug("Session saved on shutdown", "run_id", s.TrainRunID)
}
