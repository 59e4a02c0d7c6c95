package state

import (
	"math/big"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/command"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/internal/testutil"
	"github.com/vocdoni/maci-coordinator/types"
)

const (
	testStateTreeDepth = 10
	testVotingPeriod   = time.Hour
)

var testTreeDepths = types.TreeDepths{IntStateTreeDepth: 1, VoteOptionTreeDepth: 2}

type pollFixture struct {
	c        *qt.C
	clock    *testutil.Clock
	registry *MaciState
	poll     *Poll
	coord    *keys.Keypair
}

type voter struct {
	identity   *keys.Keypair
	pollKey    *keys.Keypair
	stateIndex uint64
}

func newPollFixture(c *qt.C, mode types.Mode, messageBatchSize uint64) *pollFixture {
	c.Helper()
	return newPollFixtureWithConfig(c, PollConfig{
		TreeDepths:       testTreeDepths,
		MessageBatchSize: messageBatchSize,
		Mode:             mode,
		MaxVoteOptions:   25,
	})
}

func newPollFixtureWithConfig(c *qt.C, cfg PollConfig) *pollFixture {
	c.Helper()
	clock := testutil.NewClock(testutil.StartTime)
	registry, err := NewMaciState(testStateTreeDepth, WithClock(clock))
	c.Assert(err, qt.IsNil)
	coord := testutil.NewKeypair(c)
	cfg.EndTime = testutil.StartTime.Add(testVotingPeriod)
	if cfg.CoordinatorKeypair == nil {
		cfg.CoordinatorKeypair = coord
	} else {
		coord = cfg.CoordinatorKeypair
	}
	id, err := registry.DeployPoll(cfg)
	c.Assert(err, qt.IsNil)
	poll, err := registry.Poll(id)
	c.Assert(err, qt.IsNil)
	return &pollFixture{c: c, clock: clock, registry: registry, poll: poll, coord: coord}
}

// join signs up a new identity and joins the poll with a fresh poll key.
func (f *pollFixture) join(credits int64) *voter {
	f.c.Helper()
	v := &voter{
		identity: testutil.NewKeypair(f.c),
		pollKey:  testutil.NewKeypair(f.c),
	}
	_, err := f.registry.SignUp(v.identity.PubKey)
	f.c.Assert(err, qt.IsNil)
	v.stateIndex, err = f.poll.JoinPoll(
		keys.Nullifier(v.identity.PrivKey, f.poll.ID()),
		v.pollKey.PubKey,
		big.NewInt(credits),
		uint64(f.clock.Now().Unix()),
	)
	f.c.Assert(err, qt.IsNil)
	return v
}

// encrypt builds a command signed with signer and encrypted for the
// coordinator.
func (f *pollFixture) encrypt(signer *keys.PrivKey, cmd *command.Command) (*command.Message, *keys.PubKey) {
	f.c.Helper()
	msg, encPubKey, err := cmd.SignAndEncrypt(signer, f.coord.PubKey)
	f.c.Assert(err, qt.IsNil)
	return msg, encPubKey
}

// vote publishes a command from v keeping its current poll key.
func (f *pollFixture) vote(v *voter, voteOption, weight, nonce uint64) {
	f.c.Helper()
	f.voteWithKey(v, v.pollKey.PubKey, voteOption, weight, nonce)
}

// voteWithKey publishes a command signed by v that installs newPubKey.
func (f *pollFixture) voteWithKey(v *voter, newPubKey *keys.PubKey, voteOption, weight, nonce uint64) {
	f.c.Helper()
	cmd, err := command.New(v.stateIndex, newPubKey, voteOption, weight, nonce, f.poll.ID())
	f.c.Assert(err, qt.IsNil)
	msg, encPubKey := f.encrypt(v.pollKey.PrivKey, cmd)
	f.c.Assert(f.poll.PublishMessage(msg, encPubKey), qt.IsNil)
}

func (f *pollFixture) closeVoting() {
	f.clock.Advance(testVotingPeriod + time.Second)
}

// processAll closes the poll if needed and processes every batch.
func (f *pollFixture) processAll() {
	f.c.Helper()
	if f.poll.IsOpen() {
		f.closeVoting()
	}
	f.c.Assert(f.registry.UpdatePoll(f.poll.ID()), qt.IsNil)
	_, _, err := f.poll.ProcessAllMessages()
	f.c.Assert(err, qt.IsNil)
}

func (f *pollFixture) tallyAll() {
	f.c.Helper()
	f.c.Assert(f.poll.TallyAll(), qt.IsNil)
}
