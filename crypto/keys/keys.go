// Package keys implements the BabyJubJub key material used by voters and
// coordinators: EdDSA-Poseidon signatures, ECDH shared keys and the
// macisk./macipk. text encodings.
package keys

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/crypto/field"
	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/types"
)

const (
	privKeyPrefix = "macisk."
	pubKeyPrefix  = "macipk."
)

// PadKey is the public key of the sentinel registry entry at index 0 and of
// the padding messages. Nobody knows its private key.
var PadKey = &PubKey{
	X: mustBig("10457101036533406547632367118273992217979173478358440826365724437999023779287"),
	Y: mustBig("19824078218392094440610104313265183977899662750282163392862422243483260492317"),
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid constant " + s)
	}
	return v
}

// PrivKey is a BabyJubJub private key. The raw key is always a field
// element so it can be used as a hash input.
type PrivKey struct {
	raw babyjub.PrivateKey
}

// NewPrivKey returns a random private key.
func NewPrivKey() (*PrivKey, error) {
	salt, err := field.RandomSalt()
	if err != nil {
		return nil, err
	}
	return PrivKeyFromBigInt(salt)
}

// PrivKeyFromBigInt builds a private key from its raw field element value.
func PrivKeyFromBigInt(v *big.Int) (*PrivKey, error) {
	if !field.InField(v) {
		return nil, fmt.Errorf("private key out of field")
	}
	k := &PrivKey{}
	v.FillBytes(k.raw[:])
	return k, nil
}

// BigInt returns the raw private key value.
func (k *PrivKey) BigInt() *big.Int {
	return new(big.Int).SetBytes(k.raw[:])
}

// Scalar returns the private key formatted as a BabyJubJub scalar, the form
// expected by the circuits and used for scalar multiplication.
func (k *PrivKey) Scalar() *big.Int {
	return k.raw.Scalar().BigInt()
}

// Public derives the public key.
func (k *PrivKey) Public() *PubKey {
	p := k.raw.Public()
	return &PubKey{X: new(big.Int).Set(p.X), Y: new(big.Int).Set(p.Y)}
}

// Sign produces an EdDSA-Poseidon signature of msg.
func (k *PrivKey) Sign(msg *big.Int) *Signature {
	sig := k.raw.SignPoseidon(msg)
	return &Signature{
		R8X: new(big.Int).Set(sig.R8.X),
		R8Y: new(big.Int).Set(sig.R8.Y),
		S:   new(big.Int).Set(sig.S),
	}
}

// Equal reports whether both keys are the same.
func (k *PrivKey) Equal(o *PrivKey) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.raw == o.raw
}

// Serialize returns the macisk. text encoding of the key.
func (k *PrivKey) Serialize() string {
	return privKeyPrefix + hex.EncodeToString(k.raw[:])
}

// DeserializePrivKey parses the output of PrivKey.Serialize.
func DeserializePrivKey(s string) (*PrivKey, error) {
	if !strings.HasPrefix(s, privKeyPrefix) {
		return nil, fmt.Errorf("invalid private key: missing %q prefix", privKeyPrefix)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, privKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(b) > 32 {
		return nil, fmt.Errorf("invalid private key length %d", len(b))
	}
	return PrivKeyFromBigInt(new(big.Int).SetBytes(b))
}

// PubKey is a BabyJubJub point.
type PubKey struct {
	X *big.Int
	Y *big.Int
}

// NewPubKey validates that (x, y) is a curve point and returns it as a key.
func NewPubKey(x, y *big.Int) (*PubKey, error) {
	if x == nil || y == nil {
		return nil, fmt.Errorf("public key coordinates are missing")
	}
	p := &babyjub.Point{X: x, Y: y}
	if !p.InCurve() {
		return nil, fmt.Errorf("public key is not on the curve")
	}
	return &PubKey{X: new(big.Int).Set(x), Y: new(big.Int).Set(y)}, nil
}

// Hash returns Poseidon(x, y).
func (p *PubKey) Hash() *big.Int {
	return poseidon.HashLeftRight(p.X, p.Y)
}

// AsArray returns the coordinates as [x, y].
func (p *PubKey) AsArray() []*big.Int {
	return []*big.Int{new(big.Int).Set(p.X), new(big.Int).Set(p.Y)}
}

// Copy returns a deep copy of the key.
func (p *PubKey) Copy() *PubKey {
	return &PubKey{X: new(big.Int).Set(p.X), Y: new(big.Int).Set(p.Y)}
}

// Equal reports whether both keys are the same point.
func (p *PubKey) Equal(o *PubKey) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.X.Cmp(o.X) == 0 && p.Y.Cmp(o.Y) == 0
}

// Verify checks an EdDSA-Poseidon signature of msg under this key.
func (p *PubKey) Verify(msg *big.Int, sig *Signature) bool {
	if sig == nil || sig.R8X == nil || sig.R8Y == nil || sig.S == nil {
		return false
	}
	if sig.S.Cmp(babyjub.SubOrder) >= 0 {
		return false
	}
	pk := babyjub.PublicKey{X: p.X, Y: p.Y}
	return pk.VerifyPoseidon(msg, &babyjub.Signature{
		R8: &babyjub.Point{X: sig.R8X, Y: sig.R8Y},
		S:  sig.S,
	})
}

// Serialize returns the macipk. text encoding (compressed point).
func (p *PubKey) Serialize() string {
	pk := babyjub.PublicKey{X: p.X, Y: p.Y}
	comp := pk.Compress()
	return pubKeyPrefix + hex.EncodeToString(comp[:])
}

// DeserializePubKey parses the output of PubKey.Serialize.
func DeserializePubKey(s string) (*PubKey, error) {
	if !strings.HasPrefix(s, pubKeyPrefix) {
		return nil, fmt.Errorf("invalid public key: missing %q prefix", pubKeyPrefix)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, pubKeyPrefix))
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("invalid public key encoding")
	}
	var comp babyjub.PublicKeyComp
	copy(comp[:], b)
	pk, err := comp.Decompress()
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return &PubKey{X: pk.X, Y: pk.Y}, nil
}

// MarshalJSON encodes the key as ["x", "y"].
func (p *PubKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(types.BigInts(p.AsArray()))
}

// UnmarshalJSON decodes ["x", "y"].
func (p *PubKey) UnmarshalJSON(data []byte) error {
	var coords []*types.BigInt
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	return p.setCoords(coords)
}

// MarshalCBOR encodes the key as a two element array.
func (p *PubKey) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(types.BigInts(p.AsArray()))
}

// UnmarshalCBOR decodes a two element array.
func (p *PubKey) UnmarshalCBOR(data []byte) error {
	var coords []*types.BigInt
	if err := cbor.Unmarshal(data, &coords); err != nil {
		return err
	}
	return p.setCoords(coords)
}

func (p *PubKey) setCoords(coords []*types.BigInt) error {
	if len(coords) != 2 || coords[0] == nil || coords[1] == nil {
		return fmt.Errorf("public key must have two coordinates")
	}
	p.X = types.MathBigIntConverter(coords[0])
	p.Y = types.MathBigIntConverter(coords[1])
	return nil
}

// Signature is an EdDSA-Poseidon signature.
type Signature struct {
	R8X *big.Int
	R8Y *big.Int
	S   *big.Int
}

// Keypair groups a private key with its public key.
type Keypair struct {
	PrivKey *PrivKey
	PubKey  *PubKey
}

// NewKeypair returns a random keypair.
func NewKeypair() (*Keypair, error) {
	priv, err := NewPrivKey()
	if err != nil {
		return nil, err
	}
	return KeypairFromPrivKey(priv), nil
}

// KeypairFromPrivKey derives the keypair of priv.
func KeypairFromPrivKey(priv *PrivKey) *Keypair {
	return &Keypair{PrivKey: priv, PubKey: priv.Public()}
}

// Equal reports whether both keypairs hold the same keys.
func (kp *Keypair) Equal(o *Keypair) bool {
	if kp == nil || o == nil {
		return kp == o
	}
	return kp.PrivKey.Equal(o.PrivKey) && kp.PubKey.Equal(o.PubKey)
}

// GenEcdhSharedKey returns the ECDH shared point priv·pub.
func GenEcdhSharedKey(priv *PrivKey, pub *PubKey) *PubKey {
	p := babyjub.NewPoint().Mul(priv.Scalar(), &babyjub.Point{X: pub.X, Y: pub.Y})
	return &PubKey{X: p.X, Y: p.Y}
}

// Nullifier returns the poll nullifier of priv: Poseidon(rawPrivKey, pollID).
// It is deterministic so a voter can join each poll only once.
func Nullifier(priv *PrivKey, pollID types.PollID) *big.Int {
	return poseidon.HashLeftRight(priv.BigInt(), new(big.Int).SetUint64(uint64(pollID)))
}
