// Package field holds helpers for the BN254 scalar field, the field every
// hash, key coordinate and circuit input of the coordinator lives in.
package field

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/crypto"
)

// Modulus returns a copy of the scalar field modulus.
func Modulus() *big.Int {
	return fr.Modulus()
}

var modulus = fr.Modulus()

// nothingUpMySleeve is keccak256("Maci") reduced into the field.
var nothingUpMySleeve = Reduce(new(big.Int).SetBytes(crypto.Keccak256([]byte("Maci"))))

// NothingUpMySleeve returns the verifiably random constant used as the
// initial message chain hash and as the first element of the first message.
func NothingUpMySleeve() *big.Int {
	return new(big.Int).Set(nothingUpMySleeve)
}

// InField reports whether x is a canonical field element.
func InField(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(modulus) < 0
}

// Reduce returns x mod p as a new value.
func Reduce(x *big.Int) *big.Int {
	return new(big.Int).Mod(x, modulus)
}

// Add returns a+b mod p.
func Add(a, b *big.Int) *big.Int {
	return Reduce(new(big.Int).Add(a, b))
}

// Sub returns a-b mod p.
func Sub(a, b *big.Int) *big.Int {
	return Reduce(new(big.Int).Sub(a, b))
}

// RandomSalt returns a uniformly random field element.
func RandomSalt() (*big.Int, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return nil, fmt.Errorf("random field element: %w", err)
	}
	return e.BigInt(new(big.Int)), nil
}

// MustRandomSalt is like RandomSalt but panics if the system randomness
// source fails.
func MustRandomSalt() *big.Int {
	s, err := RandomSalt()
	if err != nil {
		panic(err)
	}
	return s
}

// FreshSalt returns a random salt different from prev.
func FreshSalt(prev *big.Int) (*big.Int, error) {
	for {
		s, err := RandomSalt()
		if err != nil {
			return nil, err
		}
		if prev == nil || s.Cmp(prev) != 0 {
			return s, nil
		}
	}
}
