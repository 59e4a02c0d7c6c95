package state

import (
	"math/big"
	"time"

	"github.com/vocdoni/maci-coordinator/crypto/keys"
)

// Clock tells the current time. Polls consult it to decide whether the
// voting window is open.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// VoiceCreditProxy assigns the voice credit balance of a voter joining a
// poll.
type VoiceCreditProxy interface {
	VoiceCredits(pollPubKey *keys.PubKey) (*big.Int, error)
}

// ConstantVoiceCreditProxy grants the same balance to every voter.
type ConstantVoiceCreditProxy struct {
	Amount *big.Int
}

// VoiceCredits returns a copy of the constant amount.
func (p ConstantVoiceCreditProxy) VoiceCredits(*keys.PubKey) (*big.Int, error) {
	return new(big.Int).Set(p.Amount), nil
}
