// Package testutil builds registries with a running poll for the tests of
// the packages consuming the state machine.
package testutil

import (
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/maci-coordinator/command"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/internal/testutil"
	"github.com/vocdoni/maci-coordinator/state"
	"github.com/vocdoni/maci-coordinator/types"
)

const (
	StateTreeDepth = 10
	VotingPeriod   = time.Hour
)

// TreeDepths are small depths that keep tests fast: tally batches of 2
// ballots and 25 vote options.
var TreeDepths = types.TreeDepths{IntStateTreeDepth: 1, VoteOptionTreeDepth: 2}

// Voter is a signed up identity joined to the election poll.
type Voter struct {
	Identity   *keys.Keypair
	PollKey    *keys.Keypair
	StateIndex uint64
}

// Election is a registry with one poll open at Clock.
type Election struct {
	Registry    *state.MaciState
	Clock       *testutil.Clock
	Coordinator *keys.Keypair
	PollID      types.PollID
	Voters      []*Voter
}

// NewElection deploys a poll and joins numVoters voters holding credits
// each.
func NewElection(tb testing.TB, mode types.Mode, messageBatchSize uint64, numVoters int, credits int64) *Election {
	tb.Helper()
	clock := testutil.NewClock(testutil.StartTime)
	registry, err := state.NewMaciState(StateTreeDepth, state.WithClock(clock))
	qt.Assert(tb, err, qt.IsNil, qt.Commentf("create registry"))
	e := &Election{
		Registry:    registry,
		Clock:       clock,
		Coordinator: testutil.NewKeypair(tb),
	}
	e.PollID, err = registry.DeployPoll(state.PollConfig{
		EndTime:            clock.Now().Add(VotingPeriod),
		TreeDepths:         TreeDepths,
		MessageBatchSize:   messageBatchSize,
		CoordinatorKeypair: e.Coordinator,
		Mode:               mode,
	})
	qt.Assert(tb, err, qt.IsNil, qt.Commentf("deploy poll"))
	for range numVoters {
		e.Join(tb, credits)
	}
	return e
}

// Poll returns the election poll.
func (e *Election) Poll(tb testing.TB) *state.Poll {
	tb.Helper()
	p, err := e.Registry.Poll(e.PollID)
	qt.Assert(tb, err, qt.IsNil)
	return p
}

// Join signs up a fresh identity and joins it to the poll.
func (e *Election) Join(tb testing.TB, credits int64) *Voter {
	tb.Helper()
	v := &Voter{Identity: testutil.NewKeypair(tb), PollKey: testutil.NewKeypair(tb)}
	_, err := e.Registry.SignUp(v.Identity.PubKey)
	qt.Assert(tb, err, qt.IsNil, qt.Commentf("sign up"))
	v.StateIndex, err = e.Poll(tb).JoinPoll(
		keys.Nullifier(v.Identity.PrivKey, e.PollID),
		v.PollKey.PubKey,
		big.NewInt(credits),
		uint64(e.Clock.Now().Unix()),
	)
	qt.Assert(tb, err, qt.IsNil, qt.Commentf("join poll"))
	e.Voters = append(e.Voters, v)
	return v
}

// Vote publishes a signed and encrypted vote from v.
func (e *Election) Vote(tb testing.TB, v *Voter, voteOption, weight, nonce uint64) {
	tb.Helper()
	cmd, err := command.New(v.StateIndex, v.PollKey.PubKey, voteOption, weight, nonce, e.PollID)
	qt.Assert(tb, err, qt.IsNil)
	msg, encPubKey, err := cmd.SignAndEncrypt(v.PollKey.PrivKey, e.Coordinator.PubKey)
	qt.Assert(tb, err, qt.IsNil)
	qt.Assert(tb, e.Poll(tb).PublishMessage(msg, encPubKey), qt.IsNil)
}

// VoteAll makes voter i vote weight i+1 for option i modulo the number of
// vote options.
func (e *Election) VoteAll(tb testing.TB) {
	tb.Helper()
	options := e.Poll(tb).MaxValues().MaxVoteOptions
	for i, v := range e.Voters {
		e.Vote(tb, v, uint64(i)%options, uint64(i+1), 1)
	}
}

// Close ends the voting period.
func (e *Election) Close() {
	e.Clock.Advance(VotingPeriod + time.Second)
}
