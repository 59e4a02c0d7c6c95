// Package poseidonenc implements authenticated symmetric encryption of field
// element vectors under an ECDH shared key. The keystream and the
// authentication tag are both derived with Poseidon, so decryption can be
// expressed in a circuit.
package poseidonenc

import (
	"errors"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/field"
	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
)

// ErrDecryptionFailed is returned when the ciphertext was not produced with
// the given key or has been modified.
var ErrDecryptionFailed = errors.New("decryption failed")

func keystream(key *keys.PubKey, nonce *big.Int, i int) *big.Int {
	return poseidon.Hash4(key.X, key.Y, nonce, big.NewInt(int64(i)))
}

func tag(key *keys.PubKey, nonce *big.Int, length int, body []*big.Int) (*big.Int, error) {
	digest, err := poseidon.MultiPoseidon(body...)
	if err != nil {
		return nil, err
	}
	return poseidon.MustHash(key.X, key.Y, nonce, big.NewInt(int64(length)), digest), nil
}

// Encrypt encrypts plaintext and appends the authentication tag. The result
// has len(plaintext)+1 elements. Every plaintext element must be a field
// element.
func Encrypt(plaintext []*big.Int, key *keys.PubKey, nonce *big.Int) ([]*big.Int, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("empty plaintext")
	}
	out := make([]*big.Int, len(plaintext)+1)
	for i, p := range plaintext {
		if !field.InField(p) {
			return nil, errors.New("plaintext element out of field")
		}
		out[i] = field.Add(p, keystream(key, nonce, i))
	}
	t, err := tag(key, nonce, len(plaintext), out[:len(plaintext)])
	if err != nil {
		return nil, err
	}
	out[len(plaintext)] = t
	return out, nil
}

// Decrypt authenticates and decrypts a ciphertext produced by Encrypt.
func Decrypt(ciphertext []*big.Int, key *keys.PubKey, nonce *big.Int, length int) ([]*big.Int, error) {
	if length <= 0 || len(ciphertext) != length+1 {
		return nil, ErrDecryptionFailed
	}
	for _, c := range ciphertext {
		if !field.InField(c) {
			return nil, ErrDecryptionFailed
		}
	}
	t, err := tag(key, nonce, length, ciphertext[:length])
	if err != nil || t.Cmp(ciphertext[length]) != 0 {
		return nil, ErrDecryptionFailed
	}
	return DecryptWithoutCheck(ciphertext, key, nonce, length), nil
}

// DecryptWithoutCheck returns the plaintext the ciphertext would decrypt to
// under key, without authenticating it. Elements outside of the field are
// reduced first. The result is garbage when the key is wrong; it is only
// meant to pick deterministic witness data for messages that failed to
// decrypt.
func DecryptWithoutCheck(ciphertext []*big.Int, key *keys.PubKey, nonce *big.Int, length int) []*big.Int {
	out := make([]*big.Int, length)
	for i := range out {
		c := new(big.Int)
		if i < len(ciphertext) && ciphertext[i] != nil {
			c = field.Reduce(ciphertext[i])
		}
		out[i] = field.Sub(c, keystream(key, nonce, i))
	}
	return out
}
