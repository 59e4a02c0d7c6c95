package storage

import (
	"fmt"

	"github.com/vocdoni/maci-coordinator/state"
	"github.com/vocdoni/maci-coordinator/types"
)

// SaveTallyData stores the exported tally of a poll. The commitments are
// checked before storing.
func (s *Storage) SaveTallyData(td *state.TallyData) error {
	if err := td.Verify(); err != nil {
		return fmt.Errorf("tally data of poll %s: %w", td.PollID, err)
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.setArtifact(tallyDataPrefix, pollKey(td.PollID), td)
}

// TallyData returns the tally stored for a poll, or ErrNotFound.
func (s *Storage) TallyData(pollID types.PollID) (*state.TallyData, error) {
	key := pollKey(pollID)
	if cached, ok := s.cache.Get(cacheKey(tallyDataPrefix, key)); ok {
		return cached.(*state.TallyData), nil
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	td := new(state.TallyData)
	if err := s.getArtifact(tallyDataPrefix, key, td); err != nil {
		return nil, err
	}
	s.cache.Add(cacheKey(tallyDataPrefix, key), td)
	return td, nil
}

// HasTallyData reports whether a tally is stored for a poll.
func (s *Storage) HasTallyData(pollID types.PollID) bool {
	_, err := s.TallyData(pollID)
	return err == nil
}
