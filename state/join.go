package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/arbo"
	"github.com/vocdoni/maci-coordinator/crypto/field"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/types"
)

// JoinPoll registers a voter in the poll under pollPubKey and returns its
// poll state index. The nullifier can be used only once.
func (p *Poll) JoinPoll(nullifier *big.Int, pollPubKey *keys.PubKey, voiceCredits *big.Int, timestamp uint64) (uint64, error) {
	if !p.IsOpen() {
		return 0, ErrVotingPeriodOver
	}
	if nullifier == nil || !field.InField(nullifier) {
		return 0, ErrInvalidNullifier
	}
	if err := checkPubKey(pollPubKey); err != nil {
		return 0, err
	}
	if voiceCredits == nil || voiceCredits.Sign() < 0 {
		return 0, fmt.Errorf("invalid voice credit balance %v", voiceCredits)
	}
	used, err := p.HasNullifier(nullifier)
	if err != nil {
		return 0, err
	}
	if used {
		return 0, ErrDuplicateNullifier
	}
	if len(p.stateLeaves) >= p.stateTree.Capacity() {
		return 0, ErrPollFull
	}
	if err := p.nullifierTree.AddBigInt(nullifier, big.NewInt(1)); err != nil {
		return 0, fmt.Errorf("add nullifier: %w", err)
	}
	p.nullifiers = append(p.nullifiers, new(big.Int).Set(nullifier))

	leaf := &StateLeaf{
		PubKey:             pollPubKey.Copy(),
		VoiceCreditBalance: new(big.Int).Set(voiceCredits),
		Timestamp:          timestamp,
	}
	ballot := NewBallot(p.treeDepths.VoteOptionTreeDepth)
	index, err := p.stateTree.Insert(leaf.Hash())
	if err != nil {
		return 0, err
	}
	if _, err := p.ballotTree.Insert(ballot.Hash()); err != nil {
		return 0, err
	}
	p.stateLeaves = append(p.stateLeaves, leaf)
	p.ballots = append(p.ballots, ballot)
	log.Debugw("voter joined poll",
		"pollID", p.id.String(),
		"stateIndex", index,
	)
	return uint64(index), nil
}

// JoinPollWithProxy joins the poll with the balance granted by proxy.
func (p *Poll) JoinPollWithProxy(proxy VoiceCreditProxy, nullifier *big.Int, pollPubKey *keys.PubKey, timestamp uint64) (uint64, error) {
	credits, err := proxy.VoiceCredits(pollPubKey)
	if err != nil {
		return 0, fmt.Errorf("query voice credits: %w", err)
	}
	return p.JoinPoll(nullifier, pollPubKey, credits, timestamp)
}

// HasNullifier reports whether the nullifier was already used to join.
func (p *Poll) HasNullifier(nullifier *big.Int) (bool, error) {
	_, _, err := p.nullifierTree.GetBigInt(nullifier)
	if errors.Is(err, arbo.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup nullifier: %w", err)
	}
	return true, nil
}

// Nullifiers returns the used nullifiers in join order.
func (p *Poll) Nullifiers() []*big.Int {
	out := make([]*big.Int, len(p.nullifiers))
	for i, n := range p.nullifiers {
		out[i] = new(big.Int).Set(n)
	}
	return out
}

func checkPubKey(pk *keys.PubKey) error {
	if pk == nil {
		return ErrInvalidPubKey
	}
	if _, err := keys.NewPubKey(pk.X, pk.Y); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	return nil
}

// GenPollJoinedInputs returns the inputs proving that priv owns the poll
// state leaf at index.
func (p *Poll) GenPollJoinedInputs(index uint64, priv *keys.PrivKey) (*PollJoinedInputs, error) {
	if index == 0 || index >= uint64(len(p.stateLeaves)) {
		return nil, fmt.Errorf("state leaf %d is not a joined voter", index)
	}
	leaf := p.stateLeaves[index]
	if !priv.Public().Equal(leaf.PubKey) {
		return nil, fmt.Errorf("private key does not own state leaf %d", index)
	}
	proof, err := p.stateTree.GenProof(int(index))
	if err != nil {
		return nil, err
	}
	indices := make([]*types.BigInt, len(proof.PathIndices))
	for i, v := range proof.PathIndices {
		indices[i] = types.NewInt(v)
	}
	return &PollJoinedInputs{
		PrivKey:              types.NewBigInt(priv.BigInt()),
		VoiceCreditsBalance:  types.NewBigInt(leaf.VoiceCreditBalance),
		JoinTimestamp:        new(types.BigInt).SetUint64(leaf.Timestamp),
		StateLeaf:            types.BigInts(leaf.AsCircuitInputs()),
		PathElements:         types.BigIntMatrix(proof.PathElements),
		PathIndices:          indices,
		Credits:              types.NewBigInt(leaf.VoiceCreditBalance),
		StateRoot:            types.NewBigInt(proof.Root),
		ActualStateTreeDepth: uint64(p.stateTreeDepth),
	}, nil
}
