package poseidon

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

func TestHashWidths(t *testing.T) {
	c := qt.New(t)
	one, two := big.NewInt(1), big.NewInt(2)

	expected, err := poseidon.Hash([]*big.Int{one, two})
	c.Assert(err, qt.IsNil)
	c.Assert(HashLeftRight(one, two).Cmp(expected), qt.Equals, 0)
	c.Assert(HashLeftRight(two, one).Cmp(expected), qt.Not(qt.Equals), 0)

	_, err = Hash()
	c.Assert(err, qt.IsNotNil)
	_, err = Hash(make([]*big.Int, 17)...)
	c.Assert(err, qt.IsNotNil)
	c.Assert(func() { Hash5([]*big.Int{one}) }, qt.PanicMatches, `poseidon: Hash5 called with 1 inputs`)
}

func TestMultiPoseidon(t *testing.T) {
	c := qt.New(t)
	inputs := make([]*big.Int, 40)
	for i := range inputs {
		inputs[i] = big.NewInt(int64(i + 1))
	}
	short, err := MultiPoseidon(inputs[:3]...)
	c.Assert(err, qt.IsNil)
	c.Assert(short.Cmp(MustHash(inputs[:3]...)), qt.Equals, 0)

	h1, err := MultiPoseidon(inputs...)
	c.Assert(err, qt.IsNil)
	c.Assert(MustHash(
		MustHash(inputs[:16]...),
		MustHash(inputs[16:32]...),
		MustHash(inputs[32:]...),
	).Cmp(h1), qt.Equals, 0)

	_, err = MultiPoseidon()
	c.Assert(err, qt.ErrorMatches, "no inputs provided")
}
