package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

// TallyValues is a list of tally values with their salted commitment.
type TallyValues struct {
	Tally      []*types.BigInt `json:"tally" cbor:"0,keyasint"`
	Salt       *types.BigInt   `json:"salt" cbor:"1,keyasint"`
	Commitment *types.BigInt   `json:"commitment" cbor:"2,keyasint"`
}

// SpentValue is the total of spent voice credits with its commitment.
type SpentValue struct {
	Spent      *types.BigInt `json:"spent" cbor:"0,keyasint"`
	Salt       *types.BigInt `json:"salt" cbor:"1,keyasint"`
	Commitment *types.BigInt `json:"commitment" cbor:"2,keyasint"`
}

// TallyData is the final tally of a poll in the format published next to
// the tally proofs. Addresses and network are filled by the caller.
type TallyData struct {
	Maci                   common.Address `json:"maci" cbor:"0,keyasint"`
	PollID                 types.PollID   `json:"pollId,string" cbor:"1,keyasint"`
	Network                string         `json:"network,omitempty" cbor:"2,keyasint,omitempty"`
	ChainID                string         `json:"chainId,omitempty" cbor:"3,keyasint,omitempty"`
	IsQuadratic            bool           `json:"isQuadratic" cbor:"4,keyasint"`
	TallyAddress           common.Address `json:"tallyAddress" cbor:"5,keyasint"`
	VoteOptionTreeDepth    uint8          `json:"voteOptionTreeDepth" cbor:"6,keyasint"`
	NewTallyCommitment     *types.BigInt  `json:"newTallyCommitment" cbor:"7,keyasint"`
	Results                TallyValues    `json:"results" cbor:"8,keyasint"`
	TotalSpentVoiceCredits SpentValue     `json:"totalSpentVoiceCredits" cbor:"9,keyasint"`
	PerVOSpentVoiceCredits *TallyValues   `json:"perVOSpentVoiceCredits,omitempty" cbor:"10,keyasint,omitempty"`
}

// TallyData exports the final tally. Every ballot batch must be tallied.
func (p *Poll) TallyData() (*TallyData, error) {
	if p.numBatchesTallied == 0 || p.HasUntalliedBallots() {
		return nil, ErrTallyNotComplete
	}
	quadratic := p.tallyMode.IsQuadratic()
	depth := int(p.treeDepths.VoteOptionTreeDepth)
	resultsCommitment, err := tree.GenTreeCommitment(p.tallyResult, p.resultsRootSalt, depth)
	if err != nil {
		return nil, err
	}
	td := &TallyData{
		PollID:              p.id,
		IsQuadratic:         quadratic,
		VoteOptionTreeDepth: p.treeDepths.VoteOptionTreeDepth,
		NewTallyCommitment:  types.NewBigInt(p.tallyCommitment),
		Results: TallyValues{
			Tally:      types.BigInts(p.tallyResult),
			Salt:       types.NewBigInt(p.resultsRootSalt),
			Commitment: types.NewBigInt(resultsCommitment),
		},
		TotalSpentVoiceCredits: SpentValue{
			Spent:      types.NewBigInt(p.totalSpentVoiceCredits),
			Salt:       types.NewBigInt(p.spentVoiceCreditSubtotalSalt),
			Commitment: types.NewBigInt(poseidon.HashLeftRight(p.totalSpentVoiceCredits, p.spentVoiceCreditSubtotalSalt)),
		},
	}
	if quadratic {
		perVOCommitment, err := tree.GenTreeCommitment(p.perVOSpentVoiceCredits, p.perVOSpentVoiceCreditsSalt, depth)
		if err != nil {
			return nil, err
		}
		td.PerVOSpentVoiceCredits = &TallyValues{
			Tally:      types.BigInts(p.perVOSpentVoiceCredits),
			Salt:       types.NewBigInt(p.perVOSpentVoiceCreditsSalt),
			Commitment: types.NewBigInt(perVOCommitment),
		}
	}
	return td, nil
}

// Verify recomputes every commitment of the tally from its values and
// salts.
func (td *TallyData) Verify() error {
	if td.NewTallyCommitment == nil || td.Results.Salt == nil || td.Results.Commitment == nil ||
		td.TotalSpentVoiceCredits.Spent == nil || td.TotalSpentVoiceCredits.Salt == nil ||
		td.TotalSpentVoiceCredits.Commitment == nil {
		return fmt.Errorf("%w: incomplete tally data", ErrTallyCommitmentMismatch)
	}
	depth := int(td.VoteOptionTreeDepth)
	results := types.MathBigInts(td.Results.Tally)
	resultsCommitment, err := tree.GenTreeCommitment(results, td.Results.Salt.MathBigInt(), depth)
	if err != nil {
		return err
	}
	if resultsCommitment.Cmp(td.Results.Commitment.MathBigInt()) != 0 {
		return fmt.Errorf("%w: results", ErrTallyCommitmentMismatch)
	}
	spent := td.TotalSpentVoiceCredits
	spentCommitment := poseidon.HashLeftRight(spent.Spent.MathBigInt(), spent.Salt.MathBigInt())
	if spentCommitment.Cmp(spent.Commitment.MathBigInt()) != 0 {
		return fmt.Errorf("%w: spent voice credits", ErrTallyCommitmentMismatch)
	}

	var expected *big.Int
	if td.IsQuadratic {
		if td.PerVOSpentVoiceCredits == nil || td.PerVOSpentVoiceCredits.Salt == nil ||
			td.PerVOSpentVoiceCredits.Commitment == nil {
			return fmt.Errorf("%w: missing per option spent voice credits", ErrTallyCommitmentMismatch)
		}
		perVO := td.PerVOSpentVoiceCredits
		perVOCommitment, err := tree.GenTreeCommitment(types.MathBigInts(perVO.Tally), perVO.Salt.MathBigInt(), depth)
		if err != nil {
			return err
		}
		if perVOCommitment.Cmp(perVO.Commitment.MathBigInt()) != 0 {
			return fmt.Errorf("%w: per option spent voice credits", ErrTallyCommitmentMismatch)
		}
		expected = poseidon.Hash3(resultsCommitment, spentCommitment, perVOCommitment)
	} else {
		expected = poseidon.HashLeftRight(resultsCommitment, spentCommitment)
	}
	if expected.Cmp(td.NewTallyCommitment.MathBigInt()) != 0 {
		return fmt.Errorf("%w: tally", ErrTallyCommitmentMismatch)
	}
	return nil
}
