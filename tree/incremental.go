// Package tree implements the Merkle trees of the coordinator: a fixed
// arity, fixed depth incremental tree with a configurable empty leaf, used
// for state, ballot and vote option trees, and a LeanIMT used for the
// registry signup tree.
package tree

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
)

var (
	// ErrTreeFull is returned when inserting into a tree at capacity.
	ErrTreeFull = errors.New("tree is full")
	// ErrIndexOutOfRange is returned for leaf indices not yet inserted.
	ErrIndexOutOfRange = errors.New("leaf index out of range")
)

// Incremental is an append-only Merkle tree of fixed arity and depth whose
// leaves can be updated in place. Missing leaves take the zero value.
type Incremental struct {
	arity int
	depth int
	// zeros[l] is the value of an empty node at level l.
	zeros []*big.Int
	// nodes[l] holds the non empty nodes of level l, leaves at level 0.
	nodes [][]*big.Int
}

// Proof is an inclusion proof for one leaf, or for one subroot when
// produced by SubrootProof.
type Proof struct {
	Root         *big.Int
	Leaf         *big.Int
	PathElements [][]*big.Int
	PathIndices  []int
}

// NewIncremental creates an empty tree. Arity must be between 2 and 16 and
// depth at least 1.
func NewIncremental(arity, depth int, zeroValue *big.Int) (*Incremental, error) {
	if arity < 2 || arity > poseidon.MaxInputs {
		return nil, fmt.Errorf("unsupported tree arity %d", arity)
	}
	if depth < 1 || depth > 32 {
		return nil, fmt.Errorf("unsupported tree depth %d", depth)
	}
	t := &Incremental{
		arity: arity,
		depth: depth,
		zeros: make([]*big.Int, depth+1),
		nodes: make([][]*big.Int, depth+1),
	}
	t.zeros[0] = new(big.Int).Set(zeroValue)
	for l := 1; l <= depth; l++ {
		children := make([]*big.Int, arity)
		for i := range children {
			children[i] = t.zeros[l-1]
		}
		t.zeros[l] = t.hash(children)
	}
	return t, nil
}

// MustNewIncremental is like NewIncremental but panics on invalid
// parameters.
func MustNewIncremental(arity, depth int, zeroValue *big.Int) *Incremental {
	t, err := NewIncremental(arity, depth, zeroValue)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Incremental) hash(children []*big.Int) *big.Int {
	if t.arity == 2 {
		return poseidon.HashLeftRight(children[0], children[1])
	}
	return poseidon.MustHash(children...)
}

// Arity returns the number of children per node.
func (t *Incremental) Arity() int { return t.arity }

// Depth returns the number of levels above the leaves.
func (t *Incremental) Depth() int { return t.depth }

// Capacity returns arity^depth.
func (t *Incremental) Capacity() int {
	c := 1
	for range t.depth {
		c *= t.arity
	}
	return c
}

// NumLeaves returns the number of inserted leaves.
func (t *Incremental) NumLeaves() int { return len(t.nodes[0]) }

// ZeroValue returns the empty leaf value.
func (t *Incremental) ZeroValue() *big.Int { return new(big.Int).Set(t.zeros[0]) }

// Root returns the current root.
func (t *Incremental) Root() *big.Int {
	if len(t.nodes[t.depth]) == 0 {
		return new(big.Int).Set(t.zeros[t.depth])
	}
	return new(big.Int).Set(t.nodes[t.depth][0])
}

// Leaf returns the leaf at index, the zero value for indices past the last
// inserted leaf and inside the capacity.
func (t *Incremental) Leaf(index int) (*big.Int, error) {
	if index < 0 || index >= t.Capacity() {
		return nil, ErrIndexOutOfRange
	}
	return new(big.Int).Set(t.node(0, index)), nil
}

// Leaves returns a copy of the inserted leaves.
func (t *Incremental) Leaves() []*big.Int {
	out := make([]*big.Int, len(t.nodes[0]))
	for i, l := range t.nodes[0] {
		out[i] = new(big.Int).Set(l)
	}
	return out
}

func (t *Incremental) node(level, index int) *big.Int {
	if index < len(t.nodes[level]) {
		return t.nodes[level][index]
	}
	return t.zeros[level]
}

// Insert appends a leaf and returns its index.
func (t *Incremental) Insert(leaf *big.Int) (int, error) {
	index := len(t.nodes[0])
	if index >= t.Capacity() {
		return 0, ErrTreeFull
	}
	t.nodes[0] = append(t.nodes[0], new(big.Int).Set(leaf))
	t.rehash(index)
	return index, nil
}

// Update replaces the leaf at an already inserted index.
func (t *Incremental) Update(index int, leaf *big.Int) error {
	if index < 0 || index >= len(t.nodes[0]) {
		return ErrIndexOutOfRange
	}
	t.nodes[0][index] = new(big.Int).Set(leaf)
	t.rehash(index)
	return nil
}

// rehash recomputes the path from leaf index to the root.
func (t *Incremental) rehash(index int) {
	children := make([]*big.Int, t.arity)
	for l := 1; l <= t.depth; l++ {
		parent := index / t.arity
		for i := range children {
			children[i] = t.node(l-1, parent*t.arity+i)
		}
		h := t.hash(children)
		if parent < len(t.nodes[l]) {
			t.nodes[l][parent] = h
		} else {
			t.nodes[l] = append(t.nodes[l], h)
		}
		index = parent
	}
}

// GenProof returns the inclusion proof of the leaf at index. Indices past
// the last inserted leaf prove an empty leaf.
func (t *Incremental) GenProof(index int) (*Proof, error) {
	if index < 0 || index >= t.Capacity() {
		return nil, ErrIndexOutOfRange
	}
	return t.proofFrom(0, index), nil
}

// SubrootProof proves the subtree covering leaves [start, end). The range
// must be aligned and its size a power of the arity.
func (t *Incremental) SubrootProof(start, end int) (*Proof, error) {
	size := end - start
	level := 0
	for s := 1; s < size; s *= t.arity {
		level++
	}
	if size <= 0 || start%size != 0 || pow(t.arity, level) != size || end > t.Capacity() {
		return nil, fmt.Errorf("invalid subroot range [%d, %d)", start, end)
	}
	return t.proofFrom(level, start/size), nil
}

func (t *Incremental) proofFrom(level, index int) *Proof {
	proof := &Proof{
		Root: t.Root(),
		Leaf: new(big.Int).Set(t.node(level, index)),
	}
	for l := level; l < t.depth; l++ {
		pos := index % t.arity
		base := index - pos
		siblings := make([]*big.Int, 0, t.arity-1)
		for i := range t.arity {
			if i == pos {
				continue
			}
			siblings = append(siblings, new(big.Int).Set(t.node(l, base+i)))
		}
		proof.PathElements = append(proof.PathElements, siblings)
		proof.PathIndices = append(proof.PathIndices, pos)
		index /= t.arity
	}
	return proof
}

// VerifyProof checks a proof produced by a tree with the same arity.
func (t *Incremental) VerifyProof(p *Proof) bool {
	if p == nil || p.Leaf == nil || p.Root == nil || len(p.PathElements) != len(p.PathIndices) {
		return false
	}
	node := p.Leaf
	children := make([]*big.Int, t.arity)
	for l, siblings := range p.PathElements {
		pos := p.PathIndices[l]
		if len(siblings) != t.arity-1 || pos < 0 || pos >= t.arity {
			return false
		}
		j := 0
		for i := range t.arity {
			if i == pos {
				children[i] = node
				continue
			}
			children[i] = siblings[j]
			j++
		}
		node = t.hash(children)
	}
	return node.Cmp(p.Root) == 0
}

// Copy returns a deep copy of the tree.
func (t *Incremental) Copy() *Incremental {
	c := &Incremental{
		arity: t.arity,
		depth: t.depth,
		zeros: t.zeros,
		nodes: make([][]*big.Int, len(t.nodes)),
	}
	for l, level := range t.nodes {
		c.nodes[l] = make([]*big.Int, len(level))
		for i, n := range level {
			c.nodes[l][i] = new(big.Int).Set(n)
		}
	}
	return c
}

func pow(base, exp int) int {
	r := 1
	for range exp {
		r *= base
	}
	return r
}

// GenTreeCommitment commits to a list of values by building an arity 5 tree
// of the given depth over them and hashing its root with salt.
func GenTreeCommitment(leaves []*big.Int, salt *big.Int, depth int) (*big.Int, error) {
	t, err := NewIncremental(5, depth, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	for _, l := range leaves {
		if _, err := t.Insert(l); err != nil {
			return nil, err
		}
	}
	return poseidon.HashLeftRight(t.Root(), salt), nil
}
