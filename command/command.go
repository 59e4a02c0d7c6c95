// Package command implements the voter command codec: packing of the small
// command fields into one field element, EdDSA signing and the
// encryption of a signed command into a Message.
package command

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/field"
	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/crypto/poseidonenc"
	"github.com/vocdoni/maci-coordinator/types"
)

// plaintextLength is the number of plaintext elements of an encrypted
// command: packed values, new public key, salt, signature, and padding.
const plaintextLength = types.MessageLength - 1

var (
	// ErrValueTooLarge is returned when a packed field does not fit.
	ErrValueTooLarge = errors.New("value does not fit in a packed command field")

	packedMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), types.PackedValueBits), big.NewInt(1))
	// messageNonce is the encryption nonce; every message uses a fresh
	// ephemeral key so a constant nonce is safe.
	messageNonce = big.NewInt(0)
)

// MaxPackedValue is the largest value of any packed command field.
const MaxPackedValue = uint64(1)<<types.PackedValueBits - 1

// Command is a voter instruction: set the weight of one vote option and,
// optionally, rotate the voter key.
type Command struct {
	StateIndex      uint64
	NewPubKey       *keys.PubKey
	VoteOptionIndex uint64
	NewVoteWeight   uint64
	Nonce           uint64
	PollID          types.PollID
	Salt            *big.Int
}

// New returns a command with a random salt.
func New(stateIndex uint64, newPubKey *keys.PubKey, voteOption, weight, nonce uint64, pollID types.PollID) (*Command, error) {
	salt, err := field.RandomSalt()
	if err != nil {
		return nil, err
	}
	cmd := &Command{
		StateIndex:      stateIndex,
		NewPubKey:       newPubKey.Copy(),
		VoteOptionIndex: voteOption,
		NewVoteWeight:   weight,
		Nonce:           nonce,
		PollID:          pollID,
		Salt:            salt,
	}
	if _, err := cmd.Pack(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Pack encodes the small fields into one field element:
// stateIndex | voteOption<<50 | weight<<100 | nonce<<150 | pollID<<200.
func (c *Command) Pack() (*big.Int, error) {
	vals := []uint64{c.StateIndex, c.VoteOptionIndex, c.NewVoteWeight, c.Nonce, uint64(c.PollID)}
	packed := new(big.Int)
	for i, v := range vals {
		if v > MaxPackedValue {
			return nil, fmt.Errorf("%w: %d", ErrValueTooLarge, v)
		}
		packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(v), uint(i*types.PackedValueBits)))
	}
	return packed, nil
}

// Unpack decodes a packed element into its five fields.
func Unpack(packed *big.Int) (stateIndex, voteOption, weight, nonce uint64, pollID types.PollID) {
	get := func(i int) uint64 {
		return new(big.Int).And(new(big.Int).Rsh(packed, uint(i*types.PackedValueBits)), packedMask).Uint64()
	}
	return get(0), get(1), get(2), get(3), types.PollID(get(4))
}

// Hash returns Poseidon(packed, newPubKey.x, newPubKey.y, salt), the value
// covered by the command signature.
func (c *Command) Hash() (*big.Int, error) {
	packed, err := c.Pack()
	if err != nil {
		return nil, err
	}
	return poseidon.Hash4(packed, c.NewPubKey.X, c.NewPubKey.Y, c.Salt), nil
}

// Sign signs the command hash with priv.
func (c *Command) Sign(priv *keys.PrivKey) (*keys.Signature, error) {
	h, err := c.Hash()
	if err != nil {
		return nil, err
	}
	return priv.Sign(h), nil
}

// VerifySignature checks sig against pub.
func (c *Command) VerifySignature(sig *keys.Signature, pub *keys.PubKey) bool {
	h, err := c.Hash()
	if err != nil {
		return false
	}
	return pub.Verify(h, sig)
}

// Equal compares all fields.
func (c *Command) Equal(o *Command) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.StateIndex == o.StateIndex &&
		c.NewPubKey.Equal(o.NewPubKey) &&
		c.VoteOptionIndex == o.VoteOptionIndex &&
		c.NewVoteWeight == o.NewVoteWeight &&
		c.Nonce == o.Nonce &&
		c.PollID == o.PollID &&
		c.Salt.Cmp(o.Salt) == 0
}

// Encrypt encrypts the command and its signature under the ECDH shared key.
func (c *Command) Encrypt(sig *keys.Signature, sharedKey *keys.PubKey) (*Message, error) {
	packed, err := c.Pack()
	if err != nil {
		return nil, err
	}
	plaintext := []*big.Int{
		packed, c.NewPubKey.X, c.NewPubKey.Y, c.Salt,
		sig.R8X, sig.R8Y, sig.S,
		new(big.Int), new(big.Int),
	}
	ct, err := poseidonenc.Encrypt(plaintext, sharedKey, messageNonce)
	if err != nil {
		return nil, err
	}
	return NewMessage(ct)
}

// SignAndEncrypt signs the command with the voter key and encrypts it for
// the coordinator using a fresh ephemeral keypair, whose public key is
// returned alongside the message.
func (c *Command) SignAndEncrypt(voter *keys.PrivKey, coordinator *keys.PubKey) (*Message, *keys.PubKey, error) {
	sig, err := c.Sign(voter)
	if err != nil {
		return nil, nil, err
	}
	ephemeral, err := keys.NewKeypair()
	if err != nil {
		return nil, nil, err
	}
	msg, err := c.Encrypt(sig, keys.GenEcdhSharedKey(ephemeral.PrivKey, coordinator))
	if err != nil {
		return nil, nil, err
	}
	return msg, ephemeral.PubKey, nil
}

// Decrypt authenticates and decrypts a message with the shared key.
func Decrypt(msg *Message, sharedKey *keys.PubKey) (*Command, *keys.Signature, error) {
	pt, err := poseidonenc.Decrypt(msg.Data[:], sharedKey, messageNonce, plaintextLength)
	if err != nil {
		return nil, nil, err
	}
	cmd, sig := fromPlaintext(pt)
	return cmd, sig, nil
}

// ForceDecrypt decrypts without authentication. The result is meaningless
// for messages not encrypted under sharedKey; it is only used to choose
// deterministic witness leaves for invalid messages.
func ForceDecrypt(msg *Message, sharedKey *keys.PubKey) *Command {
	cmd, _ := fromPlaintext(poseidonenc.DecryptWithoutCheck(msg.Data[:], sharedKey, messageNonce, plaintextLength))
	return cmd
}

func fromPlaintext(pt []*big.Int) (*Command, *keys.Signature) {
	si, vo, w, nonce, pollID := Unpack(pt[0])
	cmd := &Command{
		StateIndex:      si,
		NewPubKey:       &keys.PubKey{X: pt[1], Y: pt[2]},
		VoteOptionIndex: vo,
		NewVoteWeight:   w,
		Nonce:           nonce,
		PollID:          pollID,
		Salt:            pt[3],
	}
	return cmd, &keys.Signature{R8X: pt[4], R8Y: pt[5], S: pt[6]}
}
