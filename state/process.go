package state

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/field"
	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

func sbCommitment(stateRoot, ballotRoot, salt *big.Int) *big.Int {
	return poseidon.Hash3(stateRoot, ballotRoot, salt)
}

// HasUnprocessedMessages reports whether message batches remain. Before
// the first batch it counts the batches the padded log will have.
func (p *Poll) HasUnprocessedMessages() bool {
	if !p.processingStarted {
		size := p.batchSizes.MessageBatchSize
		return (uint64(len(p.messages))+size-1)/size > 0
	}
	return p.processingCursor > 0
}

// NumBatchesProcessed returns the number of processed message batches.
func (p *Poll) NumBatchesProcessed() uint64 { return p.numBatchesProcessed }

// ProcessingCursor returns the number of message batches left to process.
// It is only meaningful once processing started.
func (p *Poll) ProcessingCursor() uint64 { return p.processingCursor }

// ProcessMessages processes one batch of messages and returns its circuit
// inputs. Batches are consumed from the last one published to the first,
// and messages inside a batch from the last to the first. The first call
// pads the trailing batch.
func (p *Poll) ProcessMessages() (*ProcessMessagesInputs, error) {
	if !p.stateCopied {
		return nil, ErrStateNotCopied
	}
	if p.IsOpen() {
		return nil, ErrVotingPeriodNotOver
	}
	if p.coordinatorPrivKey == nil {
		return nil, ErrCoordinatorKeyMissing
	}
	if !p.processingStarted {
		if err := p.PadLastBatch(); err != nil {
			return nil, err
		}
		p.processingStarted = true
		p.processingCursor = p.NumBatches()
	}
	if p.processingCursor == 0 {
		return nil, ErrNoMoreMessages
	}

	size := p.batchSizes.MessageBatchSize
	cursor := p.processingCursor
	start, end := (cursor-1)*size, cursor*size
	for i := start; i < end; i++ {
		if !p.messages[i].resolved() {
			return nil, fmt.Errorf("%w: message %d", ErrUnresolvedMessage, i)
		}
	}
	newSalt, err := field.FreshSalt(p.sbSalt)
	if err != nil {
		return nil, err
	}

	in := &ProcessMessagesInputs{
		PollID:                   p.id,
		ActualStateTreeDepth:     uint64(p.stateTreeDepth),
		NumSignUps:               p.numSignUps,
		Index:                    start,
		BatchEndIndex:            end,
		InputBatchHash:           types.NewBigInt(p.batchHashes[cursor-1]),
		OutputBatchHash:          types.NewBigInt(p.batchHashes[cursor]),
		Msgs:                     make([][]*types.BigInt, size),
		CoordPrivKey:             types.NewBigInt(p.coordinatorPrivKey.BigInt()),
		CoordinatorPublicKeyHash: types.NewBigInt(p.coordinatorPubKey.Hash()),
		EncPubKeys:               make([][]*types.BigInt, size),
		CurrentStateRoot:         types.NewBigInt(p.stateTree.Root()),
		CurrentBallotRoot:        types.NewBigInt(p.ballotTree.Root()),
		CurrentSbCommitment:      types.NewBigInt(p.SbCommitment()),
		CurrentSbSalt:            types.NewBigInt(p.sbSalt),

		CurrentStateLeaves:             make([][]*types.BigInt, size),
		CurrentStateLeavesPathElements: make([][]*types.BigInt, size),
		CurrentBallots:                 make([][]*types.BigInt, size),
		CurrentBallotsPathElements:     make([][]*types.BigInt, size),
		CurrentVoteWeights:             make([]*types.BigInt, size),
		CurrentVoteWeightsPathElements: make([][][]*types.BigInt, size),
		Outcomes:                       make([]*MessageOutcome, size),
	}

	var accepted int
	for i := range size {
		idx := end - i - 1
		pos := size - i - 1
		entry := p.messages[idx]
		outcome, err := p.ProcessMessage(entry.message, entry.encPubKey)
		if err != nil {
			return nil, err
		}
		if err := p.fillMessageWitness(in, pos, outcome); err != nil {
			return nil, err
		}
		in.Msgs[pos] = types.BigInts(entry.message.AsArray())
		in.EncPubKeys[pos] = types.BigInts(entry.encPubKey.AsArray())
		in.Outcomes[pos] = outcome

		if !outcome.Accepted {
			log.Debugw("message rejected",
				"pollID", p.id.String(),
				"index", idx,
				"reason", outcome.Reason.String(),
			)
			continue
		}
		if err := p.applyOutcome(outcome); err != nil {
			return nil, err
		}
		accepted++
	}

	p.sbSalt = newSalt
	in.NewSbSalt = types.NewBigInt(newSalt)
	in.NewSbCommitment = types.NewBigInt(p.SbCommitment())
	p.processingCursor--
	p.numBatchesProcessed++
	log.Debugw("message batch processed",
		"pollID", p.id.String(),
		"batch", cursor-1,
		"accepted", accepted,
		"remaining", p.processingCursor,
	)
	return in, nil
}

// fillMessageWitness records the leaves touched by a message, and their
// paths, before the message is applied.
func (p *Poll) fillMessageWitness(in *ProcessMessagesInputs, pos uint64, o *MessageOutcome) error {
	leaf := p.stateLeaves[o.StateIndex]
	ballot := p.ballots[o.StateIndex]
	stateProof, err := p.stateTree.GenProof(int(o.StateIndex))
	if err != nil {
		return err
	}
	ballotProof, err := p.ballotTree.GenProof(int(o.StateIndex))
	if err != nil {
		return err
	}
	voteProof, err := ballot.VoteOptionProof(o.VoteOptionIndex)
	if err != nil {
		return err
	}
	in.CurrentStateLeaves[pos] = types.BigInts(leaf.AsCircuitInputs())
	in.CurrentStateLeavesPathElements[pos] = types.BigInts(flattenBinaryPath(stateProof))
	in.CurrentBallots[pos] = types.BigInts(ballot.AsCircuitInputs())
	in.CurrentBallotsPathElements[pos] = types.BigInts(flattenBinaryPath(ballotProof))
	in.CurrentVoteWeights[pos] = types.NewBigInt(ballot.Votes[o.VoteOptionIndex])
	in.CurrentVoteWeightsPathElements[pos] = types.BigIntMatrix(voteProof.PathElements)
	return nil
}

// applyOutcome replaces the leaf and ballot of an accepted message and
// updates both trees.
func (p *Poll) applyOutcome(o *MessageOutcome) error {
	if err := p.stateTree.Update(int(o.StateIndex), o.NewStateLeaf.Hash()); err != nil {
		return err
	}
	if err := p.ballotTree.Update(int(o.StateIndex), o.NewBallot.Hash()); err != nil {
		return err
	}
	p.stateLeaves[o.StateIndex] = o.NewStateLeaf.Copy()
	p.ballots[o.StateIndex] = o.NewBallot.Copy()
	return nil
}

// flattenBinaryPath returns one sibling per level of a binary tree proof.
func flattenBinaryPath(proof *tree.Proof) []*big.Int {
	out := make([]*big.Int, 0, len(proof.PathElements))
	for _, level := range proof.PathElements {
		out = append(out, level...)
	}
	return out
}

// ProcessAllMessages processes every remaining batch and returns the
// resulting state leaves and ballots.
func (p *Poll) ProcessAllMessages() ([]*StateLeaf, []*Ballot, error) {
	for p.HasUnprocessedMessages() {
		if _, err := p.ProcessMessages(); err != nil {
			return nil, nil, err
		}
	}
	return p.StateLeaves(), p.Ballots(), nil
}
