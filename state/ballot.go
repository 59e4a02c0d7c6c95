package state

import (
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

// Ballot is the per-voter processing record: the nonce of the last
// accepted command and the current weight of every vote option.
type Ballot struct {
	Nonce uint64
	Votes []*big.Int
	// votesTree mirrors Votes; it is built lazily.
	votesTree *tree.Incremental
	depth     int
}

// NewBallot returns an empty ballot with one zero weight per leaf of a vote
// option tree of the given depth.
func NewBallot(voteOptionTreeDepth uint8) *Ballot {
	n := types.VoteOptionsCapacity(types.TreeDepths{VoteOptionTreeDepth: voteOptionTreeDepth})
	b := &Ballot{
		Votes: make([]*big.Int, n),
		depth: int(voteOptionTreeDepth),
	}
	for i := range b.Votes {
		b.Votes[i] = new(big.Int)
	}
	return b
}

func (b *Ballot) voteTree() *tree.Incremental {
	if b.votesTree == nil {
		t := tree.MustNewIncremental(types.VoteOptionTreeArity, b.depth, big.NewInt(0))
		for _, v := range b.Votes {
			if _, err := t.Insert(v); err != nil {
				panic(err)
			}
		}
		b.votesTree = t
	}
	return b.votesTree
}

// VoteOptionRoot returns the root of the vote option tree.
func (b *Ballot) VoteOptionRoot() *big.Int {
	return b.voteTree().Root()
}

// VoteOptionProof returns the path of one vote option leaf.
func (b *Ballot) VoteOptionProof(option uint64) (*tree.Proof, error) {
	return b.voteTree().GenProof(int(option))
}

// SetVote replaces the weight of one vote option.
func (b *Ballot) SetVote(option uint64, weight *big.Int) error {
	if err := b.voteTree().Update(int(option), weight); err != nil {
		return err
	}
	b.Votes[option] = new(big.Int).Set(weight)
	return nil
}

// Hash returns Poseidon(nonce, voteOptionRoot).
func (b *Ballot) Hash() *big.Int {
	return poseidon.HashLeftRight(new(big.Int).SetUint64(b.Nonce), b.VoteOptionRoot())
}

// AsCircuitInputs returns [nonce, voteOptionRoot].
func (b *Ballot) AsCircuitInputs() []*big.Int {
	return []*big.Int{new(big.Int).SetUint64(b.Nonce), b.VoteOptionRoot()}
}

// Copy returns a deep copy of the ballot.
func (b *Ballot) Copy() *Ballot {
	c := &Ballot{
		Nonce: b.Nonce,
		Votes: make([]*big.Int, len(b.Votes)),
		depth: b.depth,
	}
	for i, v := range b.Votes {
		c.Votes[i] = new(big.Int).Set(v)
	}
	if b.votesTree != nil {
		c.votesTree = b.votesTree.Copy()
	}
	return c
}

// Equal compares the nonce and every vote weight.
func (b *Ballot) Equal(o *Ballot) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.Nonce != o.Nonce || len(b.Votes) != len(o.Votes) {
		return false
	}
	for i := range b.Votes {
		if b.Votes[i].Cmp(o.Votes[i]) != 0 {
			return false
		}
	}
	return true
}
