package state

import (
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/internal/testutil"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

func TestSignUp(t *testing.T) {
	c := qt.New(t)
	s, err := NewMaciState(testStateTreeDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(s.NumSignUps(), qt.Equals, uint64(1))
	pad, err := s.PubKey(0)
	c.Assert(err, qt.IsNil)
	c.Assert(pad.Equal(keys.PadKey), qt.IsTrue)

	kp := testutil.NewKeypair(c)
	for i := range 5 {
		// duplicated keys are accepted
		index, err := s.SignUp(kp.PubKey)
		c.Assert(err, qt.IsNil)
		c.Assert(index, qt.Equals, uint64(i+1))
		c.Assert(index, qt.Equals, s.NumSignUps()-1)
	}
	c.Assert(s.PubKeys(), qt.HasLen, 6)
	c.Assert(s.StateRoot().Sign(), qt.Not(qt.Equals), 0)

	_, err = s.PubKey(6)
	c.Assert(err, qt.ErrorIs, tree.ErrIndexOutOfRange)
}

func TestSignUpCapacity(t *testing.T) {
	c := qt.New(t)
	s, err := NewMaciState(2)
	c.Assert(err, qt.IsNil)
	for range 3 {
		_, err := s.SignUp(testutil.NewKeypair(c).PubKey)
		c.Assert(err, qt.IsNil)
	}
	_, err = s.SignUp(testutil.NewKeypair(c).PubKey)
	c.Assert(err, qt.ErrorIs, ErrSignupCapacity)

	_, err = NewMaciState(0)
	c.Assert(err, qt.Not(qt.IsNil))
	_, err = NewMaciState(MaxStateTreeDepth + 1)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestDeployPoll(t *testing.T) {
	c := qt.New(t)
	clock := testutil.NewClock(testutil.StartTime)
	s, err := NewMaciState(testStateTreeDepth, WithClock(clock))
	c.Assert(err, qt.IsNil)
	cfg := PollConfig{
		EndTime:            testutil.StartTime.Add(testVotingPeriod),
		TreeDepths:         testTreeDepths,
		MessageBatchSize:   5,
		CoordinatorKeypair: testutil.NewKeypair(c),
	}

	id, err := s.DeployPoll(cfg)
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, types.PollID(0))
	c.Assert(s.DeployNullPoll(), qt.Equals, types.PollID(1))
	id, err = s.DeployPoll(cfg)
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, types.PollID(2))

	c.Assert(s.NumPolls(), qt.Equals, uint64(3))
	c.Assert(s.Polls(), qt.DeepEquals, []types.PollID{0, 2})
	_, err = s.Poll(1)
	c.Assert(err, qt.ErrorIs, ErrPollNotFound)
	_, err = s.Poll(3)
	c.Assert(err, qt.ErrorIs, ErrPollNotFound)

	p, err := s.Poll(2)
	c.Assert(err, qt.IsNil)
	c.Assert(p.MaxValues().MaxVoteOptions, qt.Equals, uint64(25))
	c.Assert(p.IsOpen(), qt.IsTrue)
	clock.Advance(testVotingPeriod)
	c.Assert(p.IsOpen(), qt.IsFalse)
}

func TestDeployPollInvalidConfig(t *testing.T) {
	c := qt.New(t)
	s, err := NewMaciState(4)
	c.Assert(err, qt.IsNil)
	coord := testutil.NewKeypair(c)
	valid := func() PollConfig {
		return PollConfig{
			EndTime:            testutil.StartTime,
			TreeDepths:         types.TreeDepths{IntStateTreeDepth: 2, VoteOptionTreeDepth: 1},
			MessageBatchSize:   5,
			CoordinatorKeypair: coord,
		}
	}
	_, err = s.DeployPoll(valid())
	c.Assert(err, qt.IsNil)

	mutations := map[string]func(*PollConfig){
		"no end time":         func(cfg *PollConfig) { cfg.EndTime = time.Time{} },
		"no batch size":       func(cfg *PollConfig) { cfg.MessageBatchSize = 0 },
		"no vote option tree": func(cfg *PollConfig) { cfg.TreeDepths.VoteOptionTreeDepth = 0 },
		"deep int state tree": func(cfg *PollConfig) { cfg.TreeDepths.IntStateTreeDepth = 5 },
		"too many options":    func(cfg *PollConfig) { cfg.MaxVoteOptions = 6 },
		"unknown mode":        func(cfg *PollConfig) { cfg.Mode = types.Mode(9) },
		"no coordinator":      func(cfg *PollConfig) { cfg.CoordinatorKeypair = nil },
		"mismatched keypair": func(cfg *PollConfig) {
			cfg.CoordinatorKeypair = &keys.Keypair{PrivKey: testutil.NewKeypair(c).PrivKey, PubKey: coord.PubKey}
		},
	}
	for name, mutate := range mutations {
		cfg := valid()
		mutate(&cfg)
		_, err := s.DeployPoll(cfg)
		c.Assert(err, qt.ErrorIs, ErrInvalidPollConfig, qt.Commentf(name))
	}
}

func TestGenPollJoiningInputs(t *testing.T) {
	c := qt.New(t)
	f := newPollFixture(c, types.ModeQV, 5)
	identity := testutil.NewKeypair(c)
	for range 3 {
		_, err := f.registry.SignUp(testutil.NewKeypair(c).PubKey)
		c.Assert(err, qt.IsNil)
	}
	index, err := f.registry.SignUp(identity.PubKey)
	c.Assert(err, qt.IsNil)
	pollKey := testutil.NewKeypair(c)

	in, err := f.registry.GenPollJoiningInputs(index, identity.PrivKey, pollKey.PubKey, f.poll.ID(), big.NewInt(10))
	c.Assert(err, qt.IsNil)
	c.Assert(in.Nullifier.MathBigInt().Cmp(keys.Nullifier(identity.PrivKey, f.poll.ID())), qt.Equals, 0)
	c.Assert(in.StateRoot.MathBigInt().Cmp(f.registry.StateRoot()), qt.Equals, 0)
	c.Assert(in.Siblings, qt.HasLen, testStateTreeDepth)
	c.Assert(in.ActualStateTreeDepth, qt.Equals, uint64(3))
	c.Assert(in.StateLeaf[0].MathBigInt().Cmp(identity.PubKey.X), qt.Equals, 0)

	_, err = f.registry.GenPollJoiningInputs(index, pollKey.PrivKey, pollKey.PubKey, f.poll.ID(), big.NewInt(10))
	c.Assert(err, qt.ErrorMatches, "private key does not own signup 4")
	_, err = f.registry.GenPollJoiningInputs(0, identity.PrivKey, pollKey.PubKey, f.poll.ID(), big.NewInt(10))
	c.Assert(err, qt.Not(qt.IsNil))

	// the nullifier joins the poll once
	_, err = f.poll.JoinPoll(in.Nullifier.MathBigInt(), pollKey.PubKey, in.Credits.MathBigInt(), 0)
	c.Assert(err, qt.IsNil)
	_, err = f.poll.JoinPoll(in.Nullifier.MathBigInt(), pollKey.PubKey, in.Credits.MathBigInt(), 0)
	c.Assert(err, qt.ErrorIs, ErrDuplicateNullifier)
}

func TestRegistryUpdatePoll(t *testing.T) {
	c := qt.New(t)
	f := newPollFixture(c, types.ModeQV, 5)
	f.join(1)
	f.join(1)
	c.Assert(f.poll.StateCopied(), qt.IsFalse)
	c.Assert(f.registry.UpdatePoll(f.poll.ID()), qt.IsNil)
	c.Assert(f.poll.StateCopied(), qt.IsTrue)
	c.Assert(f.poll.NumSignUps(), qt.Equals, uint64(3))
	c.Assert(f.registry.UpdatePoll(7), qt.ErrorIs, ErrPollNotFound)
}
