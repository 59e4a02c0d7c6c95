package field

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/constants"
)

func TestModulusMatchesPoseidonField(t *testing.T) {
	c := qt.New(t)
	c.Assert(Modulus().Cmp(constants.Q), qt.Equals, 0)
}

func TestNothingUpMySleeve(t *testing.T) {
	c := qt.New(t)
	nums := NothingUpMySleeve()
	c.Assert(InField(nums), qt.IsTrue)
	c.Assert(nums.Sign(), qt.Equals, 1)
	// callers get a copy
	nums.SetInt64(0)
	c.Assert(NothingUpMySleeve().Sign(), qt.Equals, 1)
}

func TestArithmetic(t *testing.T) {
	c := qt.New(t)
	p := Modulus()
	minusOne := new(big.Int).Sub(p, big.NewInt(1))
	c.Assert(Add(minusOne, big.NewInt(2)).Int64(), qt.Equals, int64(1))
	c.Assert(Sub(big.NewInt(1), big.NewInt(2)).Cmp(minusOne), qt.Equals, 0)
	c.Assert(InField(p), qt.IsFalse)
	c.Assert(InField(big.NewInt(-1)), qt.IsFalse)
	c.Assert(InField(nil), qt.IsFalse)
}

func TestSalts(t *testing.T) {
	c := qt.New(t)
	s, err := RandomSalt()
	c.Assert(err, qt.IsNil)
	c.Assert(InField(s), qt.IsTrue)

	next, err := FreshSalt(s)
	c.Assert(err, qt.IsNil)
	c.Assert(next.Cmp(s), qt.Not(qt.Equals), 0)
}
