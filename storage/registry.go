package storage

import (
	"fmt"

	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/state"
)

// SaveRegistry stores a snapshot of the registry and its polls under name,
// replacing any previous snapshot with that name. Coordinator private keys
// are not part of the snapshot.
func (s *Storage) SaveRegistry(name string, registry *state.MaciState) error {
	if name == "" {
		return fmt.Errorf("empty snapshot name")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	snapshot := registry.ToJSON()
	if err := s.setArtifact(registryPrefix, []byte(name), snapshot); err != nil {
		return fmt.Errorf("save registry %q: %w", name, err)
	}
	log.Debugw("registry snapshot stored",
		"name", name,
		"signups", len(snapshot.PubKeys),
		"polls", len(snapshot.Polls),
	)
	return nil
}

// LoadRegistry restores the registry snapshot stored under name. Polls
// come back without coordinator private keys. It returns ErrNotFound if
// there is no such snapshot.
func (s *Storage) LoadRegistry(name string, opts ...state.Option) (*state.MaciState, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	snapshot := new(state.RegistryJSON)
	if err := s.getArtifact(registryPrefix, []byte(name), snapshot); err != nil {
		return nil, err
	}
	registry, err := state.MaciStateFromJSON(snapshot, opts...)
	if err != nil {
		return nil, fmt.Errorf("restore registry %q: %w", name, err)
	}
	return registry, nil
}

// Registries returns the names of the stored snapshots.
func (s *Storage) Registries() ([]string, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	keys, err := s.listArtifacts(registryPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	return names, nil
}

// DeleteRegistry removes the snapshot stored under name.
func (s *Storage) DeleteRegistry(name string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.deleteArtifact(registryPrefix, []byte(name))
}
