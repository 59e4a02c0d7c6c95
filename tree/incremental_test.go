package tree

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
)

func TestIncrementalRoots(t *testing.T) {
	c := qt.New(t)
	tr, err := NewIncremental(2, 2, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	zero := big.NewInt(0)
	z1 := poseidon.HashLeftRight(zero, zero)
	c.Assert(tr.Root().Cmp(poseidon.HashLeftRight(z1, z1)), qt.Equals, 0)

	a, b, d := big.NewInt(1), big.NewInt(2), big.NewInt(3)
	for _, l := range []*big.Int{a, b, d} {
		_, err := tr.Insert(l)
		c.Assert(err, qt.IsNil)
	}
	expected := poseidon.HashLeftRight(poseidon.HashLeftRight(a, b), poseidon.HashLeftRight(d, zero))
	c.Assert(tr.Root().Cmp(expected), qt.Equals, 0)

	c.Assert(tr.Update(0, big.NewInt(9)), qt.IsNil)
	expected = poseidon.HashLeftRight(poseidon.HashLeftRight(big.NewInt(9), b), poseidon.HashLeftRight(d, zero))
	c.Assert(tr.Root().Cmp(expected), qt.Equals, 0)

	_, err = tr.Insert(big.NewInt(4))
	c.Assert(err, qt.IsNil)
	_, err = tr.Insert(big.NewInt(5))
	c.Assert(err, qt.Equals, ErrTreeFull)
	c.Assert(tr.Update(7, big.NewInt(1)), qt.Equals, ErrIndexOutOfRange)
}

func TestIncrementalProofs(t *testing.T) {
	c := qt.New(t)
	tr := MustNewIncremental(5, 2, big.NewInt(0))
	for i := range 7 {
		_, err := tr.Insert(big.NewInt(int64(i + 10)))
		c.Assert(err, qt.IsNil)
	}
	for _, idx := range []int{0, 4, 6, 20} {
		p, err := tr.GenProof(idx)
		c.Assert(err, qt.IsNil)
		c.Assert(p.PathElements, qt.HasLen, 2)
		c.Assert(p.PathElements[0], qt.HasLen, 4)
		c.Assert(tr.VerifyProof(p), qt.IsTrue)
	}
	p, err := tr.GenProof(6)
	c.Assert(err, qt.IsNil)
	c.Assert(p.PathIndices, qt.DeepEquals, []int{1, 1})
	p.Leaf = big.NewInt(1)
	c.Assert(tr.VerifyProof(p), qt.IsFalse)
}

func TestSubrootProof(t *testing.T) {
	c := qt.New(t)
	tr := MustNewIncremental(2, 3, big.NewInt(7))
	for i := range 5 {
		_, err := tr.Insert(big.NewInt(int64(i)))
		c.Assert(err, qt.IsNil)
	}
	p, err := tr.SubrootProof(2, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(p.Leaf.Cmp(poseidon.HashLeftRight(big.NewInt(2), big.NewInt(3))), qt.Equals, 0)
	c.Assert(p.PathElements, qt.HasLen, 2)
	c.Assert(tr.VerifyProof(p), qt.IsTrue)

	_, err = tr.SubrootProof(1, 3)
	c.Assert(err, qt.IsNotNil)
	_, err = tr.SubrootProof(0, 3)
	c.Assert(err, qt.IsNotNil)
}

func TestIncrementalCopy(t *testing.T) {
	c := qt.New(t)
	tr := MustNewIncremental(2, 4, big.NewInt(0))
	_, err := tr.Insert(big.NewInt(1))
	c.Assert(err, qt.IsNil)
	cp := tr.Copy()
	c.Assert(cp.Update(0, big.NewInt(2)), qt.IsNil)
	c.Assert(cp.Root().Cmp(tr.Root()), qt.Not(qt.Equals), 0)
	leaf, err := tr.Leaf(0)
	c.Assert(err, qt.IsNil)
	c.Assert(leaf.Int64(), qt.Equals, int64(1))
}

func TestGenTreeCommitment(t *testing.T) {
	c := qt.New(t)
	salt := big.NewInt(99)
	values := []*big.Int{big.NewInt(5), big.NewInt(0), big.NewInt(3)}
	commitment, err := GenTreeCommitment(values, salt, 1)
	c.Assert(err, qt.IsNil)
	zero := big.NewInt(0)
	root := poseidon.Hash5([]*big.Int{values[0], values[1], values[2], zero, zero})
	c.Assert(commitment.Cmp(poseidon.HashLeftRight(root, salt)), qt.Equals, 0)
}
