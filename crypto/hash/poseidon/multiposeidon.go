// Package poseidon provides the Poseidon hash helpers used across the
// coordinator: fixed-width hashes for tree nodes and leaves and a chunked
// variant for arbitrary input lengths.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// MaxInputs is the widest input accepted by a single Poseidon permutation.
const MaxInputs = 16

// Hash computes the Poseidon hash of 1 to 16 field elements.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 || len(inputs) > MaxInputs {
		return nil, fmt.Errorf("poseidon: invalid number of inputs %d", len(inputs))
	}
	return poseidon.Hash(inputs)
}

// MustHash is like Hash but panics on error. Callers must only pass values
// already known to be field elements.
func MustHash(inputs ...*big.Int) *big.Int {
	h, err := Hash(inputs...)
	if err != nil {
		panic(err)
	}
	return h
}

// HashLeftRight hashes two field elements.
func HashLeftRight(left, right *big.Int) *big.Int {
	return MustHash(left, right)
}

// Hash3 hashes three field elements.
func Hash3(a, b, c *big.Int) *big.Int {
	return MustHash(a, b, c)
}

// Hash4 hashes four field elements.
func Hash4(a, b, c, d *big.Int) *big.Int {
	return MustHash(a, b, c, d)
}

// Hash5 hashes five field elements.
func Hash5(inputs []*big.Int) *big.Int {
	if len(inputs) != 5 {
		panic(fmt.Sprintf("poseidon: Hash5 called with %d inputs", len(inputs)))
	}
	return MustHash(inputs...)
}

// MultiPoseidon computes the Poseidon hash of a variable number of inputs by
// chunking them into groups of 16, hashing each chunk and then hashing the
// chunk digests together (recursively if needed).
func MultiPoseidon(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	if len(inputs) <= MaxInputs {
		return poseidon.Hash(inputs)
	}

	hashes := make([]*big.Int, 0, (len(inputs)+MaxInputs-1)/MaxInputs)
	for i := 0; i < len(inputs); i += MaxInputs {
		end := min(i+MaxInputs, len(inputs))
		hash, err := poseidon.Hash(inputs[i:end])
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	if len(hashes) <= MaxInputs {
		return poseidon.Hash(hashes)
	}
	return MultiPoseidon(hashes...)
}
