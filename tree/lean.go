package tree

import (
	"fmt"
	"math/big"

	leanimt "github.com/vocdoni/lean-imt-go"
)

// leanHasher is the node hash of the signup tree.
var leanHasher = leanimt.PoseidonHasher

// Lean is a binary LeanIMT kept in memory: its depth grows with the number
// of leaves and a node without right sibling is promoted unchanged to the
// next level.
type Lean struct {
	tree *leanimt.LeanIMT[*big.Int]
}

// NewLean returns an empty LeanIMT.
func NewLean() *Lean {
	t, err := leanimt.New(leanHasher, leanimt.BigIntEqual, nil, nil, nil)
	if err != nil {
		panic(fmt.Sprintf("cannot create lean tree: %v", err))
	}
	return &Lean{tree: t}
}

// Size returns the number of leaves.
func (t *Lean) Size() int { return t.tree.Size() }

// Depth returns the current depth, zero for trees with at most one leaf.
func (t *Lean) Depth() int { return t.tree.Depth() }

// Root returns the root, zero for an empty tree.
func (t *Lean) Root() *big.Int {
	root, ok := t.tree.Root()
	if !ok || root == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(root)
}

// Insert appends a leaf and returns its index.
func (t *Lean) Insert(leaf *big.Int) int {
	return t.tree.Insert(new(big.Int).Set(leaf))
}

// GenProof returns the LeanIMT inclusion proof of the leaf at index. Levels
// where the node has no sibling are omitted from the proof.
func (t *Lean) GenProof(index int) (*leanimt.MerkleProof[*big.Int], error) {
	if index < 0 || index >= t.Size() {
		return nil, ErrIndexOutOfRange
	}
	proof, err := t.tree.GenerateProof(index)
	if err != nil {
		return nil, err
	}
	return &proof, nil
}

// VerifyLeanProof verifies a LeanIMT proof with the Poseidon hasher.
func VerifyLeanProof(proof *leanimt.MerkleProof[*big.Int]) bool {
	if proof == nil || proof.Leaf == nil || proof.Root == nil {
		return false
	}
	return leanimt.VerifyProofWith(*proof, leanHasher, leanimt.BigIntEqual)
}

// PathElements expands a LeanIMT proof into a fixed depth circuit witness:
// one sibling per level, zero where the level was skipped, plus the path
// bits of the original leaf index.
func (t *Lean) PathElements(index, depth int) ([]*big.Int, []int, error) {
	proof, err := t.GenProof(index)
	if err != nil {
		return nil, nil, err
	}
	if depth < t.Depth() {
		return nil, nil, fmt.Errorf("depth %d is below the tree depth %d", depth, t.Depth())
	}
	siblings := make([]*big.Int, depth)
	indices := make([]int, depth)
	size := t.Size()
	next := 0
	i := index
	for l := range depth {
		indices[l] = i & 1
		siblings[l] = new(big.Int)
		// nodes at level l; the proof holds a sibling only where one exists
		levelSize := (size + (1 << l) - 1) >> l
		if l < t.Depth() && (i&1 == 1 || i+1 < levelSize) {
			siblings[l].Set(proof.Siblings[next])
			next++
		}
		i >>= 1
	}
	return siblings, indices, nil
}
