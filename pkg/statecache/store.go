package statecache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opsboard/livehub-go/pkg/wire"
)

// StoreVersion is the current version of the snapshot file format.
const StoreVersion = 1

type fileEntry struct {
	EntityID   string    `json:"entity_id"`
	Codec      string    `json:"codec"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

type fileState struct {
	Version int         `json:"version"`
	SavedAt time.Time   `json:"saved_at"`
	Entries []fileEntry `json:"entries,omitempty"`
}

// Store persists cache snapshots to a JSON file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file path.
func (s *Store) Path() string { return s.path }

// Save writes entries to disk, replacing the previous file.
func (s *Store) Save(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	state := fileState{Version: StoreVersion, SavedAt: time.Now()}
	for _, e := range entries {
		name := wire.CodecNameJSON
		if e.Codec != nil {
			name = e.Codec.Name()
		}
		state.Entries = append(state.Entries, fileEntry{
			EntityID:   e.EntityID,
			Codec:      name,
			Payload:    e.Payload,
			ReceivedAt: e.ReceivedAt,
		})
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write then rename so a crash never leaves a truncated file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the entries from disk.
// Returns nil, nil if the file doesn't exist.
func (s *Store) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if state.Version != StoreVersion {
		return nil, fmt.Errorf("%s: unsupported snapshot version %d", s.path, state.Version)
	}

	entries := make([]Entry, 0, len(state.Entries))
	for _, fe := range state.Entries {
		codec, err := wire.CodecByName(fe.Codec)
		if err != nil {
			return nil, fmt.Errorf("%s: entity %s: %w", s.path, fe.EntityID, err)
		}
		entries = append(entries, Entry{
			EntityID:   fe.EntityID,
			Payload:    wire.Raw(fe.Payload),
			Codec:      codec,
			ReceivedAt: fe.ReceivedAt,
		})
	}
	return entries, nil
}

// Clear removes the snapshot file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
