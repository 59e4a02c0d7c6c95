package types

import "math/big"

// SliceOf converts a slice of type F to a slice of type T using the provided
// conversion function.
func SliceOf[F, T any](from []F, conv func(F) T) []T {
	to := make([]T, len(from))
	for i, v := range from {
		to[i] = conv(v)
	}
	return to
}

// BigIntConverter converts a *big.Int to a new *BigInt. It can be used with
// SliceOf.
func BigIntConverter(from *big.Int) *BigInt {
	return NewBigInt(from)
}

// MathBigIntConverter converts a *BigInt to a new *big.Int.
func MathBigIntConverter(from *BigInt) *big.Int {
	if from == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(from.MathBigInt())
}

// BigInts converts a slice of *big.Int into a slice of *BigInt.
func BigInts(from []*big.Int) []*BigInt {
	return SliceOf(from, BigIntConverter)
}

// BigIntMatrix converts a two dimensional slice of *big.Int.
func BigIntMatrix(from [][]*big.Int) [][]*BigInt {
	return SliceOf(from, BigInts)
}

// MathBigInts converts a slice of *BigInt into a slice of *big.Int.
func MathBigInts(from []*BigInt) []*big.Int {
	return SliceOf(from, MathBigIntConverter)
}
