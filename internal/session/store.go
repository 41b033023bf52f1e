package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store is a single-slot snapshot store. Load returns nil for a missing slot,
// unreadable JSON or a schema version mismatch; none of these is an error.
// Clear on an empty slot is a no-op.
type Store interface {
	Save(s *State) error
	Load() *State
	Clear() error
}

// stamp prepares a copy of s for writing
func stamp(s *State, now time.Time) *State {
	out := *s
	out.SchemaVersion = SchemaVersion
	out.Workflow = Workflow
	out.SavedAt = now.UnixMilli()
	return &out
}

// decode applies the reader rules shared by every store
func decode(data []byte) *State {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if s.SchemaVersion != SchemaVersion {
		return nil
	}
	return &s
}

// FileStore keeps the snapshot in <dir>/<StorageKey>.json
type FileStore struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewFileStore creates a store rooted at dir. The directory is created on first save.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger, now: time.Now}
}

// Path returns the snapshot file location
func (f *FileStore) Path() string {
	return filepath.Join(f.dir, StorageKey+".json")
}

// Save overwrites the slot with a stamped copy of s
func (f *FileStore) Save(s *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(stamp(s, f.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	path := f.Path()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp session: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename session: %w", err)
	}
	return nil
}

// Load reads the slot
func (f *FileStore) Load() *State {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Debug("Session snapshot unreadable", "path", f.Path(), "error", err)
		}
		return nil
	}
	s := decode(data)
	if s == nil {
		f.logger.Debug("Discarding session snapshot", "path", f.Path())
	}
	return s
}

// Clear removes the slot
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
