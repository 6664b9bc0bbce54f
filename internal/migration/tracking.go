package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

// Entry records where an entity's data lives after its last completed
// migration, plus the spec hash observed at that time. The schema
// detector compares against SpecHash to notice drift since the move.
type Entry struct {
	Backend    domain.BackendType `json:"backend"`
	Records    int                `json:"records"`
	SpecHash   string             `json:"spec_hash"`
	UpdatedAt  time.Time          `json:"updated_at"`
	BackupKey  string             `json:"backup_key,omitempty"`
	FromBackup domain.BackendType `json:"migrated_from,omitempty"`
}

// Tracker persists migration state as one JSON document on disk,
// rewritten atomically on every commit.
type Tracker struct {
	path string
	mu   sync.Mutex
}

// NewTracker returns a tracker backed by the given file path.
func NewTracker(path string) *Tracker {
	return &Tracker{path: path}
}

// Load reads the full tracking document. A missing file is an empty one.
func (t *Tracker) Load() (map[string]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load()
}

// Get returns the tracked entry for one entity.
func (t *Tracker) Get(entity string) (Entry, bool, error) {
	entries, err := t.Load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[entity]
	return e, ok, nil
}

// Record upserts the entry for an entity and rewrites the document.
func (t *Tracker) Record(entity string, e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, err := t.load()
	if err != nil {
		return err
	}
	entries[entity] = e
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("migration tracking: encode: %w", err)
	}
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("migration tracking: create dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".tracking-*")
	if err != nil {
		return fmt.Errorf("migration tracking: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("migration tracking: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("migration tracking: replace: %w", err)
	}
	return nil
}

func (t *Tracker) load() (map[string]Entry, error) {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration tracking: read: %w", err)
	}
	entries := make(map[string]Entry)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("migration tracking: decode: %w", err)
		}
	}
	return entries, nil
}
