package state

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestVkSigs(t *testing.T) {
	c := qt.New(t)
	shift := func(x int64, n uint) *big.Int { return new(big.Int).Lsh(big.NewInt(x), n) }

	want := new(big.Int).Add(shift(5, 128), shift(10, 64))
	want.Add(want, big.NewInt(2))
	c.Assert(GenProcessVkSig(10, 2, 5).Cmp(want), qt.Equals, 0)

	want = new(big.Int).Add(shift(10, 128), shift(1, 64))
	want.Add(want, big.NewInt(2))
	c.Assert(GenTallyVkSig(10, 1, 2).Cmp(want), qt.Equals, 0)

	want = new(big.Int).Add(shift(10, 64), big.NewInt(2))
	c.Assert(GenPollJoiningVkSig(10, 2).Cmp(want), qt.Equals, 0)

	want = new(big.Int).Add(shift(10, 128), shift(2, 64))
	c.Assert(GenPollJoinedVkSig(10, 2).Cmp(want), qt.Equals, 0)

	// parameters never overlap
	c.Assert(GenProcessVkSig(10, 2, 5).Cmp(GenProcessVkSig(10, 5, 2)), qt.Not(qt.Equals), 0)
}
