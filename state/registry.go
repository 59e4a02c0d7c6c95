package state

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

// MaxStateTreeDepth bounds the depth of the registry and poll state trees.
const MaxStateTreeDepth = 32

// MaciState is the registry: the ordered list of signed up public keys and
// the polls deployed on it. Its own fields are safe for concurrent use;
// each Poll must be owned by a single goroutine at a time.
type MaciState struct {
	mu             sync.RWMutex
	stateTreeDepth uint8
	pubKeys        []*keys.PubKey
	signupTree     *tree.Lean
	// polls is indexed by poll id; null polls are nil entries
	polls []*Poll
	clock Clock
}

// Option configures a MaciState.
type Option func(*MaciState)

// WithClock sets the clock polls use to check their voting window.
func WithClock(c Clock) Option {
	return func(s *MaciState) {
		s.clock = c
	}
}

// NewMaciState returns a registry whose signup tree holds the pad key at
// index 0.
func NewMaciState(stateTreeDepth uint8, opts ...Option) (*MaciState, error) {
	if stateTreeDepth == 0 || stateTreeDepth > MaxStateTreeDepth {
		return nil, fmt.Errorf("invalid state tree depth %d", stateTreeDepth)
	}
	s := &MaciState{
		stateTreeDepth: stateTreeDepth,
		pubKeys:        []*keys.PubKey{keys.PadKey.Copy()},
		signupTree:     tree.NewLean(),
		clock:          SystemClock,
	}
	for _, o := range opts {
		o(s)
	}
	s.signupTree.Insert(keys.PadKey.Hash())
	return s, nil
}

// StateTreeDepth returns the depth of the state trees.
func (s *MaciState) StateTreeDepth() uint8 { return s.stateTreeDepth }

// Clock returns the clock given to deployed polls.
func (s *MaciState) Clock() Clock { return s.clock }

// SignUp appends a public key to the registry and returns its state index.
// Key uniqueness is not enforced; nullifiers prevent double joins.
func (s *MaciState) SignUp(pubKey *keys.PubKey) (uint64, error) {
	if pubKey == nil {
		return 0, ErrInvalidPubKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint64(len(s.pubKeys)) >= uint64(1)<<s.stateTreeDepth {
		return 0, ErrSignupCapacity
	}
	s.pubKeys = append(s.pubKeys, pubKey.Copy())
	index := s.signupTree.Insert(pubKey.Hash())
	return uint64(index), nil
}

// NumSignUps returns the number of registry entries, the pad key included.
func (s *MaciState) NumSignUps() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.pubKeys))
}

// PubKey returns the public key signed up at index.
func (s *MaciState) PubKey(index uint64) (*keys.PubKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= uint64(len(s.pubKeys)) {
		return nil, fmt.Errorf("state index %d: %w", index, tree.ErrIndexOutOfRange)
	}
	return s.pubKeys[index].Copy(), nil
}

// PubKeys returns every signed up public key.
func (s *MaciState) PubKeys() []*keys.PubKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*keys.PubKey, len(s.pubKeys))
	for i, pk := range s.pubKeys {
		out[i] = pk.Copy()
	}
	return out
}

// StateRoot returns the root of the signup tree.
func (s *MaciState) StateRoot() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signupTree.Root()
}

func checkPollConfig(stateTreeDepth uint8, cfg PollConfig) error {
	switch {
	case cfg.EndTime.IsZero():
		return fmt.Errorf("%w: missing end time", ErrInvalidPollConfig)
	case cfg.MessageBatchSize == 0:
		return fmt.Errorf("%w: message batch size must be positive", ErrInvalidPollConfig)
	case cfg.TreeDepths.VoteOptionTreeDepth == 0 || cfg.TreeDepths.VoteOptionTreeDepth > MaxStateTreeDepth:
		return fmt.Errorf("%w: invalid vote option tree depth %d", ErrInvalidPollConfig, cfg.TreeDepths.VoteOptionTreeDepth)
	case cfg.TreeDepths.IntStateTreeDepth > stateTreeDepth:
		return fmt.Errorf("%w: intermediate state tree depth %d exceeds state tree depth %d",
			ErrInvalidPollConfig, cfg.TreeDepths.IntStateTreeDepth, stateTreeDepth)
	case cfg.MaxVoteOptions > types.VoteOptionsCapacity(cfg.TreeDepths):
		return fmt.Errorf("%w: %d vote options do not fit a depth %d tree",
			ErrInvalidPollConfig, cfg.MaxVoteOptions, cfg.TreeDepths.VoteOptionTreeDepth)
	case cfg.Mode != types.ModeQV && cfg.Mode != types.ModeNonQV:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidPollConfig, cfg.Mode)
	case cfg.CoordinatorKeypair == nil:
		return fmt.Errorf("%w: missing coordinator key", ErrInvalidPollConfig)
	}
	if err := checkPubKey(cfg.CoordinatorKeypair.PubKey); err != nil {
		return fmt.Errorf("%w: coordinator key: %v", ErrInvalidPollConfig, err)
	}
	if priv := cfg.CoordinatorKeypair.PrivKey; priv != nil && !priv.Public().Equal(cfg.CoordinatorKeypair.PubKey) {
		return fmt.Errorf("%w: %v", ErrInvalidPollConfig, ErrCoordinatorKeyMismatch)
	}
	return nil
}

// DeployPoll creates a poll and returns its id. Ids are assigned
// contiguously from zero. The poll message log starts with the
// nothing-up-my-sleeve message.
func (s *MaciState) DeployPoll(cfg PollConfig) (types.PollID, error) {
	if err := checkPollConfig(s.stateTreeDepth, cfg); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := types.PollID(len(s.polls))
	p, err := newPoll(id, s.stateTreeDepth, cfg, s.clock)
	if err != nil {
		return 0, err
	}
	p.publishGenesis()
	s.polls = append(s.polls, p)
	log.Infow("poll deployed",
		"pollID", id.String(),
		"mode", cfg.Mode.String(),
		"messageBatchSize", cfg.MessageBatchSize,
		"tallyBatchSize", p.batchSizes.TallyBatchSize,
		"maxVoteOptions", p.maxValues.MaxVoteOptions,
		"endTime", cfg.EndTime.Unix(),
	)
	return id, nil
}

// DeployNullPoll reserves a poll id without a poll behind it.
func (s *MaciState) DeployNullPoll() types.PollID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls = append(s.polls, nil)
	return types.PollID(len(s.polls) - 1)
}

// NumPolls returns the number of poll ids assigned, null polls included.
func (s *MaciState) NumPolls() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.polls))
}

// Poll returns the poll with the given id.
func (s *MaciState) Poll(id types.PollID) (*Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if uint64(id) >= uint64(len(s.polls)) || s.polls[id] == nil {
		return nil, fmt.Errorf("%w: %s", ErrPollNotFound, id)
	}
	return s.polls[id], nil
}

// Polls returns the ids of every non null poll.
func (s *MaciState) Polls() []types.PollID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]types.PollID, 0, len(s.polls))
	for i, p := range s.polls {
		if p != nil {
			ids = append(ids, types.PollID(i))
		}
	}
	return ids
}

// UpdatePoll snapshots the current signup count into a poll.
func (s *MaciState) UpdatePoll(id types.PollID) error {
	p, err := s.Poll(id)
	if err != nil {
		return err
	}
	return p.UpdatePoll(s.NumSignUps())
}

// GenPollJoiningInputs returns the inputs proving that the signup at
// stateIndex, owned by priv, derives the nullifier used to join pollID.
func (s *MaciState) GenPollJoiningInputs(stateIndex uint64, priv *keys.PrivKey, pollPubKey *keys.PubKey,
	pollID types.PollID, credits *big.Int,
) (*PollJoiningInputs, error) {
	if priv == nil || credits == nil {
		return nil, fmt.Errorf("missing private key or credits")
	}
	if err := checkPubKey(pollPubKey); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if stateIndex == 0 || stateIndex >= uint64(len(s.pubKeys)) {
		return nil, fmt.Errorf("state index %d is not a signup", stateIndex)
	}
	pubKey := s.pubKeys[stateIndex]
	if !priv.Public().Equal(pubKey) {
		return nil, fmt.Errorf("private key does not own signup %d", stateIndex)
	}
	proof, err := s.signupTree.GenProof(int(stateIndex))
	if err != nil {
		return nil, err
	}
	if !tree.VerifyLeanProof(proof) {
		return nil, fmt.Errorf("invalid signup proof for index %d", stateIndex)
	}
	siblings, indices, err := s.signupTree.PathElements(int(stateIndex), int(s.stateTreeDepth))
	if err != nil {
		return nil, err
	}
	return &PollJoiningInputs{
		PrivKey:              types.NewBigInt(priv.BigInt()),
		PollPubKey:           types.BigInts(pollPubKey.AsArray()),
		StateLeaf:            types.BigInts(pubKey.AsArray()),
		Siblings:             types.BigInts(siblings),
		Indices:              types.SliceOf(indices, types.NewInt),
		Nullifier:            types.NewBigInt(keys.Nullifier(priv, pollID)),
		Credits:              types.NewBigInt(credits),
		StateRoot:            types.NewBigInt(proof.Root),
		ActualStateTreeDepth: uint64(s.signupTree.Depth()),
		PollID:               pollID,
	}, nil
}
