package poseidonenc

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
)

func sharedKeys(c *qt.C) (*keys.PubKey, *keys.PubKey) {
	alice, err := keys.NewKeypair()
	c.Assert(err, qt.IsNil)
	bob, err := keys.NewKeypair()
	c.Assert(err, qt.IsNil)
	return keys.GenEcdhSharedKey(alice.PrivKey, bob.PubKey), keys.GenEcdhSharedKey(bob.PrivKey, alice.PubKey)
}

func TestEncryptDecrypt(t *testing.T) {
	c := qt.New(t)
	k1, k2 := sharedKeys(c)
	plaintext := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(0)}

	ct, err := Encrypt(plaintext, k1, big.NewInt(0))
	c.Assert(err, qt.IsNil)
	c.Assert(ct, qt.HasLen, len(plaintext)+1)

	pt, err := Decrypt(ct, k2, big.NewInt(0), len(plaintext))
	c.Assert(err, qt.IsNil)
	for i := range plaintext {
		c.Assert(pt[i].Cmp(plaintext[i]), qt.Equals, 0)
	}
}

func TestDecryptFailures(t *testing.T) {
	c := qt.New(t)
	k1, _ := sharedKeys(c)
	other, _ := sharedKeys(c)
	plaintext := []*big.Int{big.NewInt(7), big.NewInt(8)}

	ct, err := Encrypt(plaintext, k1, big.NewInt(0))
	c.Assert(err, qt.IsNil)

	_, err = Decrypt(ct, other, big.NewInt(0), len(plaintext))
	c.Assert(err, qt.Equals, ErrDecryptionFailed)

	_, err = Decrypt(ct, k1, big.NewInt(1), len(plaintext))
	c.Assert(err, qt.Equals, ErrDecryptionFailed)

	tampered := append([]*big.Int{}, ct...)
	tampered[0] = new(big.Int).Add(ct[0], big.NewInt(1))
	_, err = Decrypt(tampered, k1, big.NewInt(0), len(plaintext))
	c.Assert(err, qt.Equals, ErrDecryptionFailed)

	_, err = Decrypt(ct, k1, big.NewInt(0), len(plaintext)+1)
	c.Assert(err, qt.Equals, ErrDecryptionFailed)

	// unauthenticated decryption still recovers the plaintext with the right key
	pt := DecryptWithoutCheck(tampered, k1, big.NewInt(0), len(plaintext))
	c.Assert(pt[1].Cmp(plaintext[1]), qt.Equals, 0)
	c.Assert(pt[0].Cmp(big.NewInt(8)), qt.Equals, 0)
}
