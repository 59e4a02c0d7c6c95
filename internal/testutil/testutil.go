// Package testutil holds helpers shared by the tests of several packages.
package testutil

import (
	"encoding/binary"
	"math/big"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	qt "github.com/frankban/quicktest"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
)

// StartTime is the default test clock origin.
var StartTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// Clock is a manually driven clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// DeterministicAddress derives an address from n.
func DeterministicAddress(n uint64) common.Address {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)

	prefix := []byte("deterministic-address:")
	h := crypto.Keccak256(append(prefix, b[:]...))
	return common.BytesToAddress(h[12:])
}

// RandomAddress returns a random address.
func RandomAddress() common.Address {
	return DeterministicAddress(rand.Uint64())
}

// NewKeypair returns a random keypair, failing the test on error.
func NewKeypair(tb testing.TB) *keys.Keypair {
	tb.Helper()
	kp, err := keys.NewKeypair()
	qt.Assert(tb, err, qt.IsNil)
	return kp
}

// NewKeypairs returns n random keypairs.
func NewKeypairs(tb testing.TB, n int) []*keys.Keypair {
	tb.Helper()
	out := make([]*keys.Keypair, n)
	for i := range out {
		out[i] = NewKeypair(tb)
	}
	return out
}

// BatchReference returns a CIDv1 over data with a sha2-256 multihash, the
// reference format of relayed message batches.
func BatchReference(tb testing.TB, data []byte) cid.Cid {
	tb.Helper()
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	qt.Assert(tb, err, qt.IsNil)
	return cid.NewCidV1(cid.Raw, mh)
}

// RandomNullifier returns a random 128 bit value, always a field element.
func RandomNullifier() *big.Int {
	n := new(big.Int).Lsh(new(big.Int).SetUint64(rand.Uint64()), 64)
	return n.Or(n, new(big.Int).SetUint64(rand.Uint64()))
}
