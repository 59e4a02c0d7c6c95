package state

import (
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
)

// StateLeaf binds a poll public key to a voice credit balance and the
// time the voter joined.
type StateLeaf struct {
	PubKey             *keys.PubKey
	VoiceCreditBalance *big.Int
	Timestamp          uint64
}

// BlankStateLeaf is the leaf at index 0 of every poll state tree and the
// empty leaf value of the tree.
func BlankStateLeaf() *StateLeaf {
	return &StateLeaf{
		PubKey:             keys.PadKey.Copy(),
		VoiceCreditBalance: new(big.Int),
	}
}

// Hash returns Poseidon(x, y, balance, timestamp).
func (l *StateLeaf) Hash() *big.Int {
	return poseidon.Hash4(l.PubKey.X, l.PubKey.Y, l.VoiceCreditBalance, new(big.Int).SetUint64(l.Timestamp))
}

// AsCircuitInputs returns [x, y, balance, timestamp].
func (l *StateLeaf) AsCircuitInputs() []*big.Int {
	return []*big.Int{
		new(big.Int).Set(l.PubKey.X),
		new(big.Int).Set(l.PubKey.Y),
		new(big.Int).Set(l.VoiceCreditBalance),
		new(big.Int).SetUint64(l.Timestamp),
	}
}

// Copy returns a deep copy of the leaf.
func (l *StateLeaf) Copy() *StateLeaf {
	return &StateLeaf{
		PubKey:             l.PubKey.Copy(),
		VoiceCreditBalance: new(big.Int).Set(l.VoiceCreditBalance),
		Timestamp:          l.Timestamp,
	}
}

// Equal compares all fields.
func (l *StateLeaf) Equal(o *StateLeaf) bool {
	if l == nil || o == nil {
		return l == o
	}
	return l.PubKey.Equal(o.PubKey) &&
		l.VoiceCreditBalance.Cmp(o.VoiceCreditBalance) == 0 &&
		l.Timestamp == o.Timestamp
}
