package types

import (
	"encoding/json"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/fxamacker/cbor/v2"
)

func TestBigMarshalUnmarshalJSON(t *testing.T) {
	c := qt.New(t)
	bi := (*BigInt)(big.NewInt(1234567890))
	bBigInt, err := json.Marshal(map[string]*BigInt{"bi": bi})
	c.Assert(err, qt.IsNil)
	c.Assert(string(bBigInt), qt.Equals, `{"bi":"1234567890"}`)

	var unmarshaled map[string]*BigInt
	c.Assert(json.Unmarshal(bBigInt, &unmarshaled), qt.IsNil)
	c.Assert(unmarshaled["bi"].Equal(bi), qt.IsTrue)
}

func TestBigMarshalUnmarshalCBOR(t *testing.T) {
	c := qt.New(t)
	bi := (*BigInt)(big.NewInt(1234567890))
	bBigInt, err := cbor.Marshal(map[string]*BigInt{"bi": bi})
	c.Assert(err, qt.IsNil)

	var unmarshaled map[string]*BigInt
	c.Assert(cbor.Unmarshal(bBigInt, &unmarshaled), qt.IsNil)
	c.Assert(unmarshaled["bi"].Equal(bi), qt.IsTrue)
}

func TestBigUnmarshalJSONNumeric(t *testing.T) {
	c := qt.New(t)

	var biString BigInt
	c.Assert(json.Unmarshal([]byte(`"123456789"`), &biString), qt.IsNil)
	c.Assert(biString.String(), qt.Equals, "123456789")

	var biNumeric BigInt
	c.Assert(json.Unmarshal([]byte(`123456789`), &biNumeric), qt.IsNil)
	c.Assert(biNumeric.String(), qt.Equals, "123456789")
}

func TestBigIntMatrix(t *testing.T) {
	c := qt.New(t)
	m := BigIntMatrix([][]*big.Int{{big.NewInt(1), big.NewInt(2)}, {big.NewInt(3)}})
	out, err := json.Marshal(m)
	c.Assert(err, qt.IsNil)
	c.Assert(string(out), qt.Equals, `[["1","2"],["3"]]`)

	back := MathBigInts(m[0])
	c.Assert(back[1].Int64(), qt.Equals, int64(2))
	// the conversion copies the values
	back[1].SetInt64(9)
	c.Assert(m[0][1].String(), qt.Equals, "2")
}
