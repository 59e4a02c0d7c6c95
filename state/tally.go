package state

import (
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/field"
	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

// HasUntalliedBallots reports whether ballot batches remain to be tallied.
func (p *Poll) HasUntalliedBallots() bool {
	return p.numBatchesTallied*p.batchSizes.TallyBatchSize < uint64(len(p.ballots))
}

// NumBatchesTallied returns the number of tallied ballot batches.
func (p *Poll) NumBatchesTallied() uint64 { return p.numBatchesTallied }

// TallyResult returns the per option results.
func (p *Poll) TallyResult() []*big.Int { return copyInts(p.tallyResult) }

// PerVOSpentVoiceCredits returns the credits spent on each option. It is
// only filled by quadratic tallies.
func (p *Poll) PerVOSpentVoiceCredits() []*big.Int { return copyInts(p.perVOSpentVoiceCredits) }

// TotalSpentVoiceCredits returns the credits spent by every voter.
func (p *Poll) TotalSpentVoiceCredits() *big.Int { return new(big.Int).Set(p.totalSpentVoiceCredits) }

// TallyCommitment returns the commitment produced by the last tally batch.
func (p *Poll) TallyCommitment() *big.Int { return new(big.Int).Set(p.tallyCommitment) }

// TallyVotes tallies one batch of ballots with quadratic accounting.
func (p *Poll) TallyVotes() (*TallyVotesInputs, error) {
	return p.tallyBatch(types.ModeQV)
}

// TallyVotesNonQv tallies one batch of ballots with linear accounting.
func (p *Poll) TallyVotesNonQv() (*TallyVotesInputs, error) {
	return p.tallyBatch(types.ModeNonQV)
}

// Tally tallies one batch in the mode the poll was deployed with.
func (p *Poll) Tally() (*TallyVotesInputs, error) {
	return p.tallyBatch(p.mode)
}

// TallyAll tallies every remaining batch in the poll mode.
func (p *Poll) TallyAll() error {
	for p.HasUntalliedBallots() {
		if _, err := p.Tally(); err != nil {
			return err
		}
	}
	return nil
}

// tallyBatch adds the next tallyBatchSize ballots to the results. Ballots
// are consumed in index order.
func (p *Poll) tallyBatch(mode types.Mode) (*TallyVotesInputs, error) {
	if p.HasUnprocessedMessages() {
		return nil, ErrMessagesNotProcessed
	}
	if !p.HasUntalliedBallots() {
		return nil, ErrAllBallotsTallied
	}
	if p.tallyMode != nil && *p.tallyMode != mode {
		return nil, ErrTallyModeMismatch
	}
	quadratic := mode.IsQuadratic()
	size := p.batchSizes.TallyBatchSize
	start := p.numBatchesTallied * size
	end := min(start+size, uint64(len(p.ballots)))

	in := &TallyVotesInputs{
		PollID:                              p.id,
		StateRoot:                           types.NewBigInt(p.stateTree.Root()),
		BallotRoot:                          types.NewBigInt(p.ballotTree.Root()),
		SbSalt:                              types.NewBigInt(p.sbSalt),
		Index:                               start,
		NumSignUps:                          p.numSignUps,
		SbCommitment:                        types.NewBigInt(p.SbCommitment()),
		CurrentTallyCommitment:              types.NewBigInt(p.currentTallyCommitment()),
		CurrentResults:                      types.BigInts(p.tallyResult),
		CurrentResultsRootSalt:              types.NewBigInt(p.resultsRootSalt),
		CurrentSpentVoiceCreditSubtotal:     types.NewBigInt(p.totalSpentVoiceCredits),
		CurrentSpentVoiceCreditSubtotalSalt: types.NewBigInt(p.spentVoiceCreditSubtotalSalt),
	}
	if quadratic {
		in.CurrentPerVOSpentVoiceCredits = types.BigInts(p.perVOSpentVoiceCredits)
		in.CurrentPerVOSpentVoiceCreditsRootSalt = types.NewBigInt(p.perVOSpentVoiceCreditsSalt)
	}

	subroot, err := p.ballotTree.SubrootProof(int(start), int(start+size))
	if err != nil {
		return nil, err
	}
	in.BallotPathElements = types.BigIntMatrix(subroot.PathElements)

	results := copyInts(p.tallyResult)
	perVO := copyInts(p.perVOSpentVoiceCredits)
	total := new(big.Int).Set(p.totalSpentVoiceCredits)
	emptyBallot := NewBallot(p.treeDepths.VoteOptionTreeDepth)
	for i := start; i < start+size; i++ {
		ballot := emptyBallot
		if i < end {
			ballot = p.ballots[i]
		}
		in.Ballots = append(in.Ballots, types.BigInts(ballot.AsCircuitInputs()))
		in.Votes = append(in.Votes, types.BigInts(ballot.Votes))
		for j := range p.maxValues.MaxVoteOptions {
			w := ballot.Votes[j]
			results[j].Add(results[j], w)
			if quadratic {
				sq := new(big.Int).Mul(w, w)
				perVO[j].Add(perVO[j], sq)
				total.Add(total, sq)
			} else {
				total.Add(total, w)
			}
		}
	}

	resultsSalt, err := field.FreshSalt(p.resultsRootSalt)
	if err != nil {
		return nil, err
	}
	spentSalt, err := field.FreshSalt(p.spentVoiceCreditSubtotalSalt)
	if err != nil {
		return nil, err
	}
	perVOSalt := new(big.Int)
	if quadratic {
		if perVOSalt, err = field.FreshSalt(p.perVOSpentVoiceCreditsSalt); err != nil {
			return nil, err
		}
	}
	commitment, err := p.tallyCommitmentFor(results, resultsSalt, total, spentSalt, perVO, perVOSalt, quadratic)
	if err != nil {
		return nil, err
	}

	in.NewResultsRootSalt = types.NewBigInt(resultsSalt)
	in.NewSpentVoiceCreditSubtotalSalt = types.NewBigInt(spentSalt)
	if quadratic {
		in.NewPerVOSpentVoiceCreditsRootSalt = types.NewBigInt(perVOSalt)
	}
	in.NewTallyCommitment = types.NewBigInt(commitment)

	p.tallyResult = results
	p.perVOSpentVoiceCredits = perVO
	p.totalSpentVoiceCredits = total
	p.resultsRootSalt = resultsSalt
	p.spentVoiceCreditSubtotalSalt = spentSalt
	p.perVOSpentVoiceCreditsSalt = perVOSalt
	p.tallyCommitment = commitment
	p.tallyMode = &mode
	p.numBatchesTallied++
	log.Debugw("ballot batch tallied",
		"pollID", p.id.String(),
		"batch", p.numBatchesTallied-1,
		"mode", mode.String(),
	)
	if !p.HasUntalliedBallots() {
		log.Infow("poll tally complete",
			"pollID", p.id.String(),
			"totalSpent", total.String(),
		)
	}
	return in, nil
}

// currentTallyCommitment is zero until the first batch is tallied.
func (p *Poll) currentTallyCommitment() *big.Int {
	if p.numBatchesTallied == 0 {
		return new(big.Int)
	}
	return p.tallyCommitment
}

// tallyCommitmentFor computes Poseidon(results, spent, perVO) for
// quadratic tallies and Poseidon(results, spent) otherwise, where each
// element is the salted commitment of the corresponding value.
func (p *Poll) tallyCommitmentFor(results []*big.Int, resultsSalt, total, spentSalt *big.Int,
	perVO []*big.Int, perVOSalt *big.Int, quadratic bool,
) (*big.Int, error) {
	depth := int(p.treeDepths.VoteOptionTreeDepth)
	resultsCommitment, err := tree.GenTreeCommitment(results, resultsSalt, depth)
	if err != nil {
		return nil, err
	}
	spentCommitment := poseidon.HashLeftRight(total, spentSalt)
	if !quadratic {
		return poseidon.HashLeftRight(resultsCommitment, spentCommitment), nil
	}
	perVOCommitment, err := tree.GenTreeCommitment(perVO, perVOSalt, depth)
	if err != nil {
		return nil, err
	}
	return poseidon.Hash3(resultsCommitment, spentCommitment, perVOCommitment), nil
}

func copyInts(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).Set(v)
	}
	return out
}
