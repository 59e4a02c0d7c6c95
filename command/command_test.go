package command

import (
	"encoding/json"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/fxamacker/cbor/v2"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/crypto/poseidonenc"
)

func TestPackUnpack(t *testing.T) {
	c := qt.New(t)
	kp, err := keys.NewKeypair()
	c.Assert(err, qt.IsNil)
	cmd, err := New(5, kp.PubKey, 3, 9, 1, 7)
	c.Assert(err, qt.IsNil)

	packed, err := cmd.Pack()
	c.Assert(err, qt.IsNil)
	si, vo, w, nonce, pollID := Unpack(packed)
	c.Assert(si, qt.Equals, uint64(5))
	c.Assert(vo, qt.Equals, uint64(3))
	c.Assert(w, qt.Equals, uint64(9))
	c.Assert(nonce, qt.Equals, uint64(1))
	c.Assert(uint64(pollID), qt.Equals, uint64(7))

	_, err = New(MaxPackedValue+1, kp.PubKey, 0, 0, 0, 0)
	c.Assert(err, qt.ErrorIs, ErrValueTooLarge)
}

func TestSignEncryptDecrypt(t *testing.T) {
	c := qt.New(t)
	voter, err := keys.NewKeypair()
	c.Assert(err, qt.IsNil)
	coordinator, err := keys.NewKeypair()
	c.Assert(err, qt.IsNil)

	cmd, err := New(1, voter.PubKey, 0, 5, 1, 0)
	c.Assert(err, qt.IsNil)
	msg, encPubKey, err := cmd.SignAndEncrypt(voter.PrivKey, coordinator.PubKey)
	c.Assert(err, qt.IsNil)

	shared := keys.GenEcdhSharedKey(coordinator.PrivKey, encPubKey)
	decrypted, sig, err := Decrypt(msg, shared)
	c.Assert(err, qt.IsNil)
	c.Assert(decrypted.Equal(cmd), qt.IsTrue)
	c.Assert(decrypted.VerifySignature(sig, voter.PubKey), qt.IsTrue)
	c.Assert(decrypted.VerifySignature(sig, coordinator.PubKey), qt.IsFalse)

	// the wrong key fails to authenticate but force decryption still
	// returns a deterministic command
	wrong := keys.GenEcdhSharedKey(voter.PrivKey, encPubKey)
	_, _, err = Decrypt(msg, wrong)
	c.Assert(err, qt.Equals, poseidonenc.ErrDecryptionFailed)
	c.Assert(ForceDecrypt(msg, wrong).Equal(ForceDecrypt(msg, wrong)), qt.IsTrue)
	c.Assert(ForceDecrypt(msg, shared).Equal(cmd), qt.IsTrue)
}

func TestSentinelMessages(t *testing.T) {
	c := qt.New(t)
	coordinator, err := keys.NewKeypair()
	c.Assert(err, qt.IsNil)
	shared := keys.GenEcdhSharedKey(coordinator.PrivKey, keys.PadKey)
	for _, m := range []*Message{NothingUpMySleeveMessage(), PaddingMessage()} {
		_, _, err := Decrypt(m, shared)
		c.Assert(err, qt.Equals, poseidonenc.ErrDecryptionFailed)
	}
	c.Assert(NothingUpMySleeveMessage().Data[0].Sign(), qt.Equals, 1)
	c.Assert(NothingUpMySleeveMessage().Hash(keys.PadKey).Cmp(PaddingMessage().Hash(keys.PadKey)), qt.Not(qt.Equals), 0)
}

func TestMessageEncoding(t *testing.T) {
	c := qt.New(t)
	data := make([]*big.Int, 10)
	for i := range data {
		data[i] = big.NewInt(int64(i * 3))
	}
	msg, err := NewMessage(data)
	c.Assert(err, qt.IsNil)

	j, err := json.Marshal(msg)
	c.Assert(err, qt.IsNil)
	var fromJSON Message
	c.Assert(json.Unmarshal(j, &fromJSON), qt.IsNil)
	c.Assert(fromJSON.Equal(msg), qt.IsTrue)

	b, err := cbor.Marshal(msg)
	c.Assert(err, qt.IsNil)
	var fromCBOR Message
	c.Assert(cbor.Unmarshal(b, &fromCBOR), qt.IsNil)
	c.Assert(fromCBOR.Equal(msg), qt.IsTrue)

	_, err = NewMessage(data[:9])
	c.Assert(err, qt.ErrorMatches, "message must have 10 elements, got 9")
}
