package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/vocdoni/maci-coordinator/command"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/types"
)

// RegistryJSON is the serializable form of a MaciState. Coordinator
// private keys are never part of it.
type RegistryJSON struct {
	StateTreeDepth uint8          `json:"stateTreeDepth"`
	PubKeys        []*keys.PubKey `json:"pubKeys"`
	// Polls is indexed by poll id, null polls are null entries.
	Polls []*PollJSON `json:"polls"`
}

// StateLeafJSON is the serializable form of a StateLeaf.
type StateLeafJSON struct {
	PubKey             *keys.PubKey  `json:"pubKey"`
	VoiceCreditBalance *types.BigInt `json:"voiceCreditBalance"`
	Timestamp          uint64        `json:"timestamp"`
}

// BallotJSON is the serializable form of a Ballot.
type BallotJSON struct {
	Nonce uint64          `json:"nonce"`
	Votes []*types.BigInt `json:"votes"`
}

// MessageJSON is one message log entry. Data and EncPubKey are omitted
// for relayed entries whose body is not known yet.
type MessageJSON struct {
	Data      *command.Message `json:"data,omitempty"`
	EncPubKey *keys.PubKey     `json:"encPubKey,omitempty"`
	Hash      *types.BigInt    `json:"hash"`
	Relayed   bool             `json:"relayed,omitempty"`
}

// RelayedBatchJSON is the serializable form of a RelayedBatch.
type RelayedBatchJSON struct {
	Sender     common.Address `json:"sender"`
	Reference  string         `json:"reference"`
	FirstIndex uint64         `json:"firstIndex"`
	Count      uint64         `json:"count"`
}

// PollJSON is the serializable form of a Poll.
type PollJSON struct {
	ID                   types.PollID       `json:"pollId"`
	EndTime              int64              `json:"pollEndTimestamp"`
	StateTreeDepth       uint8              `json:"stateTreeDepth"`
	TreeDepths           types.TreeDepths   `json:"treeDepths"`
	BatchSizes           types.BatchSizes   `json:"batchSizes"`
	MaxValues            types.MaxValues    `json:"maxValues"`
	Mode                 string             `json:"mode"`
	Relayers             []common.Address   `json:"relayers,omitempty"`
	CoordinatorPublicKey string             `json:"coordinatorPublicKey"`
	StateLeaves          []*StateLeafJSON   `json:"stateLeaves"`
	Ballots              []*BallotJSON      `json:"ballots"`
	Nullifiers           []*types.BigInt    `json:"nullifiers"`
	Messages             []*MessageJSON     `json:"messages"`
	ChainHash            *types.BigInt      `json:"chainHash"`
	BatchHashes          []*types.BigInt    `json:"batchHashes"`
	RelayedBatches       []RelayedBatchJSON `json:"relayedBatches,omitempty"`
	Padded               bool               `json:"padded"`
	NumVotes             uint64             `json:"numVotes"`

	NumSignUps          uint64        `json:"numSignups"`
	StateCopied         bool          `json:"stateCopied"`
	ProcessingStarted   bool          `json:"processingStarted"`
	ProcessingCursor    uint64        `json:"currentMessageBatchIndex"`
	NumBatchesProcessed uint64        `json:"numBatchesProcessed"`
	SbSalt              *types.BigInt `json:"sbSalt"`

	NumBatchesTallied              uint64          `json:"numBatchesTallied"`
	TallyMode                      string          `json:"tallyMode,omitempty"`
	TallyResult                    []*types.BigInt `json:"tallyResult"`
	PerVOSpentVoiceCredits         []*types.BigInt `json:"perVOSpentVoiceCredits"`
	TotalSpentVoiceCredits         *types.BigInt   `json:"totalSpentVoiceCredits"`
	ResultsRootSalt                *types.BigInt   `json:"resultRootSalt"`
	PerVOSpentVoiceCreditsRootSalt *types.BigInt   `json:"preVOSpentVoiceCreditsRootSalt"`
	SpentVoiceCreditSubtotalSalt   *types.BigInt   `json:"spentVoiceCreditSubtotalSalt"`
	TallyCommitment                *types.BigInt   `json:"tallyCommitment"`
}

// ToJSON returns the serializable form of the registry.
func (s *MaciState) ToJSON() *RegistryJSON {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j := &RegistryJSON{
		StateTreeDepth: s.stateTreeDepth,
		PubKeys:        make([]*keys.PubKey, len(s.pubKeys)),
		Polls:          make([]*PollJSON, len(s.polls)),
	}
	for i, pk := range s.pubKeys {
		j.PubKeys[i] = pk.Copy()
	}
	for i, p := range s.polls {
		if p != nil {
			j.Polls[i] = p.ToJSON()
		}
	}
	return j
}

// MaciStateFromJSON restores a registry, rebuilding every tree from its
// leaves. Restored polls have no coordinator private key.
func MaciStateFromJSON(j *RegistryJSON, opts ...Option) (*MaciState, error) {
	s, err := NewMaciState(j.StateTreeDepth, opts...)
	if err != nil {
		return nil, err
	}
	if len(j.PubKeys) == 0 || !j.PubKeys[0].Equal(keys.PadKey) {
		return nil, fmt.Errorf("registry must start with the pad key")
	}
	for _, pk := range j.PubKeys[1:] {
		if _, err := s.SignUp(pk); err != nil {
			return nil, err
		}
	}
	for i, pj := range j.Polls {
		if pj == nil {
			s.DeployNullPoll()
			continue
		}
		if pj.ID != types.PollID(i) {
			return nil, fmt.Errorf("poll at position %d has id %s", i, pj.ID)
		}
		if pj.StateTreeDepth != s.stateTreeDepth {
			return nil, fmt.Errorf("poll %s state tree depth %d differs from registry depth %d",
				pj.ID, pj.StateTreeDepth, s.stateTreeDepth)
		}
		p, err := PollFromJSON(pj, s.clock)
		if err != nil {
			return nil, fmt.Errorf("restore poll %s: %w", pj.ID, err)
		}
		s.polls = append(s.polls, p)
	}
	return s, nil
}

// ToJSON returns the serializable form of the poll.
func (p *Poll) ToJSON() *PollJSON {
	j := &PollJSON{
		ID:                   p.id,
		EndTime:              p.endTime,
		StateTreeDepth:       p.stateTreeDepth,
		TreeDepths:           p.treeDepths,
		BatchSizes:           p.batchSizes,
		MaxValues:            p.maxValues,
		Mode:                 p.mode.String(),
		Relayers:             p.Relayers(),
		CoordinatorPublicKey: p.coordinatorPubKey.Serialize(),
		Nullifiers:           types.BigInts(p.nullifiers),
		ChainHash:            types.NewBigInt(p.chainHash),
		BatchHashes:          types.BigInts(p.batchHashes),
		Padded:               p.padded,
		NumVotes:             p.numVotes,

		NumSignUps:          p.numSignUps,
		StateCopied:         p.stateCopied,
		ProcessingStarted:   p.processingStarted,
		ProcessingCursor:    p.processingCursor,
		NumBatchesProcessed: p.numBatchesProcessed,
		SbSalt:              types.NewBigInt(p.sbSalt),

		NumBatchesTallied:              p.numBatchesTallied,
		TallyResult:                    types.BigInts(p.tallyResult),
		PerVOSpentVoiceCredits:         types.BigInts(p.perVOSpentVoiceCredits),
		TotalSpentVoiceCredits:         types.NewBigInt(p.totalSpentVoiceCredits),
		ResultsRootSalt:                types.NewBigInt(p.resultsRootSalt),
		PerVOSpentVoiceCreditsRootSalt: types.NewBigInt(p.perVOSpentVoiceCreditsSalt),
		SpentVoiceCreditSubtotalSalt:   types.NewBigInt(p.spentVoiceCreditSubtotalSalt),
		TallyCommitment:                types.NewBigInt(p.tallyCommitment),
	}
	if p.tallyMode != nil {
		j.TallyMode = p.tallyMode.String()
	}
	for _, l := range p.stateLeaves {
		j.StateLeaves = append(j.StateLeaves, &StateLeafJSON{
			PubKey:             l.PubKey.Copy(),
			VoiceCreditBalance: types.NewBigInt(l.VoiceCreditBalance),
			Timestamp:          l.Timestamp,
		})
	}
	for _, b := range p.ballots {
		j.Ballots = append(j.Ballots, &BallotJSON{Nonce: b.Nonce, Votes: types.BigInts(b.Votes)})
	}
	for _, e := range p.messages {
		m := &MessageJSON{Hash: types.NewBigInt(e.hash), Relayed: e.relayed}
		if e.resolved() {
			m.Data = e.message.Copy()
			m.EncPubKey = e.encPubKey.Copy()
		}
		j.Messages = append(j.Messages, m)
	}
	for _, rb := range p.relayedBatches {
		j.RelayedBatches = append(j.RelayedBatches, RelayedBatchJSON{
			Sender:     rb.Sender,
			Reference:  rb.Reference.String(),
			FirstIndex: rb.FirstIndex,
			Count:      rb.Count,
		})
	}
	return j
}

// PollFromJSON restores a poll. Trees are rebuilt from the leaves and the
// chain hash is recomputed from the message log; both must match the
// snapshot. The coordinator private key must be set with
// SetCoordinatorKeypair before processing.
func PollFromJSON(j *PollJSON, clock Clock) (*Poll, error) {
	if clock == nil {
		clock = SystemClock
	}
	mode, err := types.ParseMode(j.Mode)
	if err != nil {
		return nil, err
	}
	coordPubKey, err := keys.DeserializePubKey(j.CoordinatorPublicKey)
	if err != nil {
		return nil, fmt.Errorf("coordinator public key: %w", err)
	}
	cfg := PollConfig{
		EndTime:            time.Unix(j.EndTime, 0),
		TreeDepths:         j.TreeDepths,
		MessageBatchSize:   j.BatchSizes.MessageBatchSize,
		CoordinatorKeypair: &keys.Keypair{PubKey: coordPubKey},
		Mode:               mode,
		MaxVoteOptions:     j.MaxValues.MaxVoteOptions,
		Relayers:           j.Relayers,
	}
	if j.StateTreeDepth == 0 || j.StateTreeDepth > MaxStateTreeDepth {
		return nil, fmt.Errorf("%w: invalid state tree depth %d", ErrInvalidPollConfig, j.StateTreeDepth)
	}
	if err := checkPollConfig(j.StateTreeDepth, cfg); err != nil {
		return nil, err
	}
	p, err := newPoll(j.ID, j.StateTreeDepth, cfg, clock)
	if err != nil {
		return nil, err
	}
	if err := p.restoreLeaves(j); err != nil {
		return nil, err
	}
	if err := p.restoreMessages(j); err != nil {
		return nil, err
	}
	for i, n := range j.Nullifiers {
		if n == nil {
			return nil, fmt.Errorf("invalid snapshot: nil nullifier %d", i)
		}
		if err := p.nullifierTree.AddBigInt(n.MathBigInt(), big.NewInt(1)); err != nil {
			return nil, fmt.Errorf("nullifier %d: %w", i, err)
		}
		p.nullifiers = append(p.nullifiers, new(big.Int).Set(n.MathBigInt()))
	}
	p.padded = j.Padded
	p.numVotes = j.NumVotes
	p.numSignUps = j.NumSignUps
	p.stateCopied = j.StateCopied
	p.processingStarted = j.ProcessingStarted
	p.processingCursor = j.ProcessingCursor
	p.numBatchesProcessed = j.NumBatchesProcessed
	p.sbSalt = types.MathBigIntConverter(j.SbSalt)
	if p.processingCursor > p.NumBatches() {
		return nil, fmt.Errorf("processing cursor %d beyond %d batches", p.processingCursor, p.NumBatches())
	}
	return p, p.restoreTally(j)
}

func (p *Poll) restoreLeaves(j *PollJSON) error {
	if len(j.StateLeaves) == 0 || len(j.StateLeaves) != len(j.Ballots) {
		return fmt.Errorf("invalid snapshot: %d state leaves and %d ballots", len(j.StateLeaves), len(j.Ballots))
	}
	capacity := len(p.ballots[0].Votes)
	for i := range j.StateLeaves {
		lj, bj := j.StateLeaves[i], j.Ballots[i]
		if lj == nil || bj == nil || lj.PubKey == nil || len(bj.Votes) != capacity {
			return fmt.Errorf("invalid snapshot: malformed leaf or ballot %d", i)
		}
		leaf := &StateLeaf{
			PubKey:             lj.PubKey.Copy(),
			VoiceCreditBalance: types.MathBigIntConverter(lj.VoiceCreditBalance),
			Timestamp:          lj.Timestamp,
		}
		ballot := NewBallot(p.treeDepths.VoteOptionTreeDepth)
		ballot.Nonce = bj.Nonce
		ballot.Votes = types.MathBigInts(bj.Votes)
		if i == 0 {
			if !leaf.Equal(p.stateLeaves[0]) || !ballot.Equal(p.ballots[0]) {
				return fmt.Errorf("invalid snapshot: index 0 must hold the blank leaf and ballot")
			}
			continue
		}
		if _, err := p.stateTree.Insert(leaf.Hash()); err != nil {
			return err
		}
		if _, err := p.ballotTree.Insert(ballot.Hash()); err != nil {
			return err
		}
		p.stateLeaves = append(p.stateLeaves, leaf)
		p.ballots = append(p.ballots, ballot)
	}
	return nil
}

func (p *Poll) restoreMessages(j *PollJSON) error {
	if len(j.BatchHashes) == 0 || j.BatchHashes[0] == nil || j.ChainHash == nil {
		return fmt.Errorf("invalid snapshot: missing chain hash")
	}
	p.messages = nil
	p.chainHash = types.MathBigIntConverter(j.BatchHashes[0])
	p.batchHashes = []*big.Int{new(big.Int).Set(p.chainHash)}
	for i, mj := range j.Messages {
		if mj == nil || mj.Hash == nil {
			return fmt.Errorf("invalid snapshot: malformed message %d", i)
		}
		e := &messageEntry{hash: new(big.Int).Set(mj.Hash.MathBigInt()), relayed: mj.Relayed}
		if mj.Data != nil && mj.EncPubKey != nil {
			if mj.Data.Hash(mj.EncPubKey).Cmp(e.hash) != 0 {
				return fmt.Errorf("invalid snapshot: message %d does not match its hash", i)
			}
			e.message = mj.Data.Copy()
			e.encPubKey = mj.EncPubKey.Copy()
		} else if !mj.Relayed {
			return fmt.Errorf("invalid snapshot: message %d has no body", i)
		}
		p.appendEntry(e)
	}
	if p.chainHash.Cmp(j.ChainHash.MathBigInt()) != 0 || len(p.batchHashes) != len(j.BatchHashes) {
		return fmt.Errorf("invalid snapshot: chain hash mismatch")
	}
	for i, h := range j.BatchHashes {
		if h == nil || p.batchHashes[i].Cmp(h.MathBigInt()) != 0 {
			return fmt.Errorf("invalid snapshot: batch hash %d mismatch", i)
		}
	}
	for _, rb := range j.RelayedBatches {
		ref, err := cid.Decode(rb.Reference)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBatchReference, err)
		}
		p.relayedBatches = append(p.relayedBatches, RelayedBatch{
			Sender:     rb.Sender,
			Reference:  ref,
			FirstIndex: rb.FirstIndex,
			Count:      rb.Count,
		})
	}
	return nil
}

func (p *Poll) restoreTally(j *PollJSON) error {
	n := int(p.maxValues.MaxVoteOptions)
	if len(j.TallyResult) != n || len(j.PerVOSpentVoiceCredits) != n {
		return fmt.Errorf("invalid snapshot: tally arrays must have %d entries", n)
	}
	p.numBatchesTallied = j.NumBatchesTallied
	p.tallyResult = types.MathBigInts(j.TallyResult)
	p.perVOSpentVoiceCredits = types.MathBigInts(j.PerVOSpentVoiceCredits)
	p.totalSpentVoiceCredits = types.MathBigIntConverter(j.TotalSpentVoiceCredits)
	p.resultsRootSalt = types.MathBigIntConverter(j.ResultsRootSalt)
	p.perVOSpentVoiceCreditsSalt = types.MathBigIntConverter(j.PerVOSpentVoiceCreditsRootSalt)
	p.spentVoiceCreditSubtotalSalt = types.MathBigIntConverter(j.SpentVoiceCreditSubtotalSalt)
	p.tallyCommitment = types.MathBigIntConverter(j.TallyCommitment)
	if j.TallyMode != "" {
		mode, err := types.ParseMode(j.TallyMode)
		if err != nil {
			return err
		}
		p.tallyMode = &mode
	}
	if p.numBatchesTallied == 0 {
		return nil
	}
	if p.tallyMode == nil {
		return fmt.Errorf("invalid snapshot: missing tally mode")
	}
	commitment, err := p.tallyCommitmentFor(p.tallyResult, p.resultsRootSalt, p.totalSpentVoiceCredits,
		p.spentVoiceCreditSubtotalSalt, p.perVOSpentVoiceCredits, p.perVOSpentVoiceCreditsSalt, p.tallyMode.IsQuadratic())
	if err != nil {
		return err
	}
	if commitment.Cmp(p.tallyCommitment) != 0 {
		return fmt.Errorf("invalid snapshot: %w", ErrTallyCommitmentMismatch)
	}
	return nil
}

// Copy returns a deep copy of the poll, coordinator private key included.
func (p *Poll) Copy() *Poll {
	c, err := PollFromJSON(p.ToJSON(), p.clock)
	if err != nil {
		panic(fmt.Sprintf("copy poll %s: %v", p.id, err))
	}
	c.coordinatorPrivKey = p.coordinatorPrivKey
	return c
}

// Equal reports whether both polls hold the same state. Coordinator
// private keys are not compared.
func (p *Poll) Equal(o *Poll) bool {
	if p == nil || o == nil {
		return p == o
	}
	return jsonEqual(p.ToJSON(), o.ToJSON())
}

// Copy returns a deep copy of the registry and its polls.
func (s *MaciState) Copy() *MaciState {
	c, err := MaciStateFromJSON(s.ToJSON(), WithClock(s.clock))
	if err != nil {
		panic(fmt.Sprintf("copy registry: %v", err))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, p := range s.polls {
		if p != nil {
			c.polls[i].coordinatorPrivKey = p.coordinatorPrivKey
		}
	}
	return c
}

// Equal reports whether both registries hold the same state.
func (s *MaciState) Equal(o *MaciState) bool {
	if s == nil || o == nil {
		return s == o
	}
	return jsonEqual(s.ToJSON(), o.ToJSON())
}

func jsonEqual(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
