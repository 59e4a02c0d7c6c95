package command

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/maci-coordinator/crypto/field"
	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/types"
)

// Message is an encrypted command as published by a voter: the ciphertext
// plus its authentication tag, types.MessageLength field elements.
type Message struct {
	Data [types.MessageLength]*big.Int
}

// NewMessage builds a message from its field elements.
func NewMessage(data []*big.Int) (*Message, error) {
	if len(data) != types.MessageLength {
		return nil, fmt.Errorf("message must have %d elements, got %d", types.MessageLength, len(data))
	}
	m := &Message{}
	for i, d := range data {
		if !field.InField(d) {
			return nil, fmt.Errorf("message element %d is not a field element", i)
		}
		m.Data[i] = new(big.Int).Set(d)
	}
	return m, nil
}

// NothingUpMySleeveMessage is the message published when a poll is
// deployed, so the message log is never empty.
func NothingUpMySleeveMessage() *Message {
	m := emptyMessage()
	m.Data[0] = field.NothingUpMySleeve()
	return m
}

// PaddingMessage fills the last batch of a poll. It never decrypts.
func PaddingMessage() *Message {
	return emptyMessage()
}

func emptyMessage() *Message {
	m := &Message{}
	for i := range m.Data {
		m.Data[i] = new(big.Int)
	}
	return m
}

// AsArray returns a copy of the message elements.
func (m *Message) AsArray() []*big.Int {
	out := make([]*big.Int, len(m.Data))
	for i, d := range m.Data {
		out[i] = new(big.Int).Set(d)
	}
	return out
}

// Hash returns the message leaf: Poseidon of the elements followed by the
// ephemeral public key coordinates.
func (m *Message) Hash(encPubKey *keys.PubKey) *big.Int {
	return poseidon.MustHash(append(m.AsArray(), encPubKey.X, encPubKey.Y)...)
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	c := &Message{}
	for i, d := range m.Data {
		c.Data[i] = new(big.Int).Set(d)
	}
	return c
}

// Equal reports whether both messages hold the same elements.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	for i := range m.Data {
		if m.Data[i].Cmp(o.Data[i]) != 0 {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the message as an array of decimal strings.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(types.BigInts(m.Data[:]))
}

// UnmarshalJSON decodes an array of decimal strings.
func (m *Message) UnmarshalJSON(data []byte) error {
	var elems []*types.BigInt
	if err := json.Unmarshal(data, &elems); err != nil {
		return err
	}
	return m.set(elems)
}

// MarshalCBOR encodes the message as an array of decimal strings.
func (m *Message) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(types.BigInts(m.Data[:]))
}

// UnmarshalCBOR decodes an array of decimal strings.
func (m *Message) UnmarshalCBOR(data []byte) error {
	var elems []*types.BigInt
	if err := cbor.Unmarshal(data, &elems); err != nil {
		return err
	}
	return m.set(elems)
}

func (m *Message) set(elems []*types.BigInt) error {
	parsed, err := NewMessage(types.MathBigInts(elems))
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}
