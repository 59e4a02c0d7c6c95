package state

import (
	"encoding/json"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/maci-coordinator/types"
)

func TestTallyPreconditions(t *testing.T) {
	c := qt.New(t)
	f := newPollFixture(c, types.ModeQV, 5)
	v := f.join(100)
	f.vote(v, 0, 5, 1)

	_, err := f.poll.TallyVotes()
	c.Assert(err, qt.ErrorIs, ErrMessagesNotProcessed)
	f.closeVoting()
	_, err = f.poll.TallyVotes()
	c.Assert(err, qt.ErrorIs, ErrMessagesNotProcessed)

	f.processAll()
	c.Assert(f.poll.HasUntalliedBallots(), qt.IsTrue)
	in, err := f.poll.TallyVotes()
	c.Assert(err, qt.IsNil)
	c.Assert(in.CurrentTallyCommitment.MathBigInt().Sign(), qt.Equals, 0)
	c.Assert(f.poll.HasUntalliedBallots(), qt.IsFalse)

	_, err = f.poll.TallyVotes()
	c.Assert(err, qt.ErrorIs, ErrAllBallotsTallied)
	c.Assert(f.poll.TallyResult()[0].Int64(), qt.Equals, int64(5))
	c.Assert(f.poll.TotalSpentVoiceCredits().Int64(), qt.Equals, int64(25))
}

func TestTallyBatches(t *testing.T) {
	c := qt.New(t)
	f := newPollFixture(c, types.ModeQV, 5)
	voters := []*voter{f.join(100), f.join(100), f.join(100), f.join(100)}
	for i, v := range voters {
		f.vote(v, uint64(i), uint64(i+1), 1)
	}
	f.processAll()

	var (
		batches    int
		commitment *types.BigInt
	)
	for f.poll.HasUntalliedBallots() {
		in, err := f.poll.Tally()
		c.Assert(err, qt.IsNil)
		c.Assert(in.Index, qt.Equals, uint64(batches)*f.poll.BatchSizes().TallyBatchSize)
		c.Assert(in.Ballots, qt.HasLen, 2)
		c.Assert(in.Votes[0], qt.HasLen, 25)
		c.Assert(in.BallotPathElements, qt.HasLen, testStateTreeDepth-int(testTreeDepths.IntStateTreeDepth))
		if commitment != nil {
			c.Assert(in.CurrentTallyCommitment.Equal(commitment), qt.IsTrue)
		}
		commitment = in.NewTallyCommitment
		batches++
	}
	// 5 ballots, the blank one included, in batches of 2
	c.Assert(batches, qt.Equals, 3)
	c.Assert(f.poll.TallyCommitment().Cmp(commitment.MathBigInt()), qt.Equals, 0)

	results := f.poll.TallyResult()
	total := new(big.Int)
	for i := range voters {
		c.Assert(results[i].Int64(), qt.Equals, int64(i+1))
		total.Add(total, big.NewInt(int64((i+1)*(i+1))))
	}
	c.Assert(f.poll.TotalSpentVoiceCredits().Cmp(total), qt.Equals, 0)
}

func TestTallyModeMismatch(t *testing.T) {
	c := qt.New(t)
	f := newPollFixture(c, types.ModeQV, 5)
	f.join(100)
	f.join(100)
	f.processAll()

	_, err := f.poll.TallyVotes()
	c.Assert(err, qt.IsNil)
	_, err = f.poll.TallyVotesNonQv()
	c.Assert(err, qt.ErrorIs, ErrTallyModeMismatch)
	_, err = f.poll.TallyVotes()
	c.Assert(err, qt.IsNil)
}

func TestTallyData(t *testing.T) {
	c := qt.New(t)
	f := newPollFixture(c, types.ModeQV, 5)
	v := f.join(100)
	f.vote(v, 4, 6, 1)
	f.processAll()

	_, err := f.poll.TallyData()
	c.Assert(err, qt.ErrorIs, ErrTallyNotComplete)
	f.tallyAll()

	td, err := f.poll.TallyData()
	c.Assert(err, qt.IsNil)
	c.Assert(td.IsQuadratic, qt.IsTrue)
	c.Assert(td.PerVOSpentVoiceCredits, qt.Not(qt.IsNil))
	c.Assert(td.NewTallyCommitment.MathBigInt().Cmp(f.poll.TallyCommitment()), qt.Equals, 0)
	c.Assert(td.Verify(), qt.IsNil)

	data, err := json.Marshal(td)
	c.Assert(err, qt.IsNil)
	var decoded TallyData
	c.Assert(json.Unmarshal(data, &decoded), qt.IsNil)
	c.Assert(decoded.Verify(), qt.IsNil)
	c.Assert(decoded.Results.Tally[4].MathBigInt().Int64(), qt.Equals, int64(6))
	c.Assert(decoded.TotalSpentVoiceCredits.Spent.MathBigInt().Int64(), qt.Equals, int64(36))

	decoded.Results.Tally[4] = types.NewInt(7)
	c.Assert(decoded.Verify(), qt.ErrorIs, ErrTallyCommitmentMismatch)
}

func TestTallyDataNonQuadratic(t *testing.T) {
	c := qt.New(t)
	f := newPollFixture(c, types.ModeNonQV, 5)
	v := f.join(100)
	f.vote(v, 0, 60, 1)
	f.processAll()
	f.tallyAll()

	td, err := f.poll.TallyData()
	c.Assert(err, qt.IsNil)
	c.Assert(td.IsQuadratic, qt.IsFalse)
	c.Assert(td.PerVOSpentVoiceCredits, qt.IsNil)
	c.Assert(td.Verify(), qt.IsNil)

	data, err := json.Marshal(td)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Not(qt.Contains), "perVOSpentVoiceCredits")
}
