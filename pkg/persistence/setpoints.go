package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mash-protocol/opcsim-go/pkg/model"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// SetpointState is the persisted server state.
type SetpointState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Namespace is the URI the node ids below are qualified by.
	Namespace string `json:"namespace"`

	Setpoints []Setpoint `json:"setpoints,omitempty"`
}

// Setpoint is the last value of one client-writable variable.
type Setpoint struct {
	// NodeID in "ns=<n>;i=<key>" form.
	NodeID     string        `json:"node_id"`
	BrowseName string        `json:"browse_name,omitempty"`
	Value      model.Variant `json:"value"`
}

// Values returns the saved values keyed by node id. Entries that do not
// parse are skipped and reported in the returned error.
func (s *SetpointState) Values() (map[model.NodeID]model.Variant, error) {
	values := make(map[model.NodeID]model.Variant, len(s.Setpoints))
	var bad []string
	for _, sp := range s.Setpoints {
		id, err := model.ParseNodeID(sp.NodeID)
		if err != nil {
			bad = append(bad, sp.NodeID)
			continue
		}
		v, err := sp.Value.Normalize()
		if err != nil {
			bad = append(bad, sp.NodeID)
			continue
		}
		values[id] = v
	}
	if len(bad) > 0 {
		return values, fmt.Errorf("invalid setpoints: %v", bad)
	}
	return values, nil
}

// SetpointStore manages persistence of set-points to a JSON file.
type SetpointStore struct {
	mu   sync.Mutex
	path string
}

// NewSetpointStore creates a store writing to path.
func NewSetpointStore(path string) *SetpointStore {
	return &SetpointStore{path: path}
}

// Path returns the state file path.
func (s *SetpointStore) Path() string { return s.path }

// Save persists the state to disk.
func (s *SetpointStore) Save(state *SetpointState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
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

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *SetpointStore) Load() (*SetpointState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &SetpointState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", s.path, err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("state file %s has unsupported version %d", s.path, state.Version)
	}

	return state, nil
}

// Clear removes the state file.
func (s *SetpointStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
