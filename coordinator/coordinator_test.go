package coordinator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/db"
	"github.com/vocdoni/maci-coordinator/db/metadb"
	"github.com/vocdoni/maci-coordinator/internal/testutil"
	"github.com/vocdoni/maci-coordinator/state"
	statetest "github.com/vocdoni/maci-coordinator/state/testutil"
	"github.com/vocdoni/maci-coordinator/storage"
	"github.com/vocdoni/maci-coordinator/types"
)

type recordingProver struct {
	mu        sync.Mutex
	process   map[types.PollID]int
	tally     map[types.PollID]int
	tallyErr  error
	onProcess func(types.PollID)
}

func newRecordingProver() *recordingProver {
	return &recordingProver{
		process: make(map[types.PollID]int),
		tally:   make(map[types.PollID]int),
	}
}

func (p *recordingProver) ProveProcessMessages(_ context.Context, id types.PollID, in *state.ProcessMessagesInputs) error {
	if in.PollID != id {
		return errors.New("inputs of another poll")
	}
	if p.onProcess != nil {
		p.onProcess(id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.process[id]++
	return nil
}

func (p *recordingProver) ProveTally(_ context.Context, id types.PollID, _ *state.TallyVotesInputs) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tallyErr != nil {
		return p.tallyErr
	}
	p.tally[id]++
	return nil
}

func (p *recordingProver) counts(id types.PollID) (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.process[id], p.tally[id]
}

func newStorage(t *testing.T) *storage.Storage {
	database, err := metadb.New(db.TypeInMem, "")
	qt.Assert(t, err, qt.IsNil)
	return storage.New(database)
}

func TestFinalizePoll(t *testing.T) {
	c := qt.New(t)
	e := statetest.NewElection(t, types.ModeQV, 2, 3, 100)
	e.VoteAll(t)
	stg := newStorage(t)
	prover := newRecordingProver()
	maci := testutil.DeterministicAddress(1)
	coord := New(e.Registry, stg, prover, Options{MaciAddress: maci, Network: "localhost"})

	_, err := coord.FinalizePoll(context.Background(), e.PollID)
	c.Assert(err, qt.ErrorIs, state.ErrVotingPeriodNotOver)
	_, err = coord.FinalizePoll(context.Background(), e.PollID+1)
	c.Assert(err, qt.ErrorIs, state.ErrPollNotFound)

	e.Close()
	td, err := coord.FinalizePoll(context.Background(), e.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(td.Verify(), qt.IsNil)
	c.Assert(td.Maci, qt.Equals, maci)
	c.Assert(td.Network, qt.Equals, "localhost")
	c.Assert(td.IsQuadratic, qt.IsTrue)
	for i := range 3 {
		c.Assert(td.Results.Tally[i].MathBigInt().Int64(), qt.Equals, int64(i+1))
	}
	c.Assert(td.TotalSpentVoiceCredits.Spent.MathBigInt().Int64(), qt.Equals, int64(1+4+9))

	// four messages in batches of 2, four ballots in batches of 2
	process, tally := prover.counts(e.PollID)
	c.Assert(process, qt.Equals, 2)
	c.Assert(tally, qt.Equals, tallyBatches(c, e, e.PollID))
	c.Assert(tally, qt.Equals, 2)
	jobs, err := stg.ProverJobs(e.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(jobs, qt.HasLen, 0)

	// finalizing again returns the stored tally without proving
	again, err := coord.FinalizePoll(context.Background(), e.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(again.NewTallyCommitment.MathBigInt().Cmp(td.NewTallyCommitment.MathBigInt()), qt.Equals, 0)
	process, tally = prover.counts(e.PollID)
	c.Assert(process+tally, qt.Equals, 4)
}

func TestFinalizePollWithoutProver(t *testing.T) {
	c := qt.New(t)
	e := statetest.NewElection(t, types.ModeNonQV, 2, 3, 10)
	e.VoteAll(t)
	e.Close()
	stg := newStorage(t)
	coord := New(e.Registry, stg, nil, Options{})

	td, err := coord.FinalizePoll(context.Background(), e.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(td.IsQuadratic, qt.IsFalse)
	c.Assert(td.PerVOSpentVoiceCredits, qt.IsNil)

	// every batch stays queued for an external prover
	jobs, err := stg.ProverJobs(e.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(jobs, qt.HasLen, 4)
	c.Assert(jobs[0].Kind, qt.Equals, storage.ProverJobProcessMessages)
	c.Assert(jobs[1].Kind, qt.Equals, storage.ProverJobProcessMessages)
	c.Assert(jobs[2].Kind, qt.Equals, storage.ProverJobTallyVotes)
	c.Assert(jobs[3].Kind, qt.Equals, storage.ProverJobTallyVotes)
	c.Assert(jobs[3].Batch, qt.Equals, uint64(1))
}

func TestFinalizePollProverFailure(t *testing.T) {
	c := qt.New(t)
	e := statetest.NewElection(t, types.ModeQV, 5, 2, 100)
	e.VoteAll(t)
	e.Close()
	stg := newStorage(t)
	prover := newRecordingProver()
	prover.tallyErr = errors.New("prover offline")
	coord := New(e.Registry, stg, prover, Options{})

	_, err := coord.FinalizePoll(context.Background(), e.PollID)
	c.Assert(err, qt.ErrorMatches, ".*prover offline")
	c.Assert(stg.HasTallyData(e.PollID), qt.IsFalse)
	jobs, err := stg.ProverJobs(e.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(jobs, qt.HasLen, 1)
	c.Assert(jobs[0].Kind, qt.Equals, storage.ProverJobTallyVotes)
}

func TestFinalizePollMissingKey(t *testing.T) {
	c := qt.New(t)
	e := statetest.NewElection(t, types.ModeQV, 5, 1, 100)
	e.Close()
	stg := newStorage(t)
	c.Assert(stg.SaveRegistry("main", e.Registry), qt.IsNil)
	restored, err := stg.LoadRegistry("main", state.WithClock(e.Clock))
	c.Assert(err, qt.IsNil)

	coord := New(restored, stg, nil, Options{})
	_, err = coord.FinalizePoll(context.Background(), e.PollID)
	c.Assert(err, qt.ErrorIs, state.ErrCoordinatorKeyMissing)
}

func TestFinalizePollBusy(t *testing.T) {
	c := qt.New(t)
	e := statetest.NewElection(t, types.ModeQV, 5, 1, 100)
	e.Close()
	prover := newRecordingProver()
	coord := New(e.Registry, newStorage(t), prover, Options{})

	var busyErr error
	prover.onProcess = func(id types.PollID) {
		_, busyErr = coord.FinalizePoll(context.Background(), id)
	}
	_, err := coord.FinalizePoll(context.Background(), e.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(busyErr, qt.ErrorIs, ErrPollBusy)
}

func TestFinalizePollCanceled(t *testing.T) {
	c := qt.New(t)
	e := statetest.NewElection(t, types.ModeQV, 2, 3, 100)
	e.VoteAll(t)
	e.Close()
	stg := newStorage(t)
	coord := New(e.Registry, stg, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := coord.FinalizePoll(ctx, e.PollID)
	c.Assert(err, qt.ErrorIs, context.Canceled)
	c.Assert(e.Poll(t).NumBatchesProcessed(), qt.Equals, uint64(0))

	// a later call resumes where the canceled one stopped
	td, err := coord.FinalizePoll(context.Background(), e.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(td.Verify(), qt.IsNil)
}

// tallyBatches returns the number of ballot batches of a poll.
func tallyBatches(c *qt.C, e *statetest.Election, id types.PollID) int {
	poll, err := e.Registry.Poll(id)
	c.Assert(err, qt.IsNil)
	ballots := uint64(len(poll.Ballots()))
	size := types.TallyBatchSizeFor(statetest.TreeDepths)
	return int((ballots + size - 1) / size)
}

// deploySecondPoll deploys another poll on the election registry and joins
// every election voter to it.
func deploySecondPoll(c *qt.C, e *statetest.Election, mode types.Mode) types.PollID {
	id, err := e.Registry.DeployPoll(state.PollConfig{
		EndTime:            e.Clock.Now().Add(statetest.VotingPeriod),
		TreeDepths:         statetest.TreeDepths,
		MessageBatchSize:   3,
		CoordinatorKeypair: e.Coordinator,
		Mode:               mode,
	})
	c.Assert(err, qt.IsNil)
	poll, err := e.Registry.Poll(id)
	c.Assert(err, qt.IsNil)
	for _, v := range e.Voters {
		_, err := poll.JoinPoll(keys.Nullifier(v.Identity.PrivKey, id), v.PollKey.PubKey, big.NewInt(50), 0)
		c.Assert(err, qt.IsNil)
	}
	return id
}

func TestFinalizePolls(t *testing.T) {
	c := qt.New(t)
	e := statetest.NewElection(t, types.ModeQV, 2, 4, 100)
	second := deploySecondPoll(c, e, types.ModeNonQV)
	e.VoteAll(t)
	e.Close()
	stg := newStorage(t)
	prover := newRecordingProver()
	coord := New(e.Registry, stg, prover, Options{Snapshot: "main", Workers: 2})

	results, err := coord.FinalizePolls(context.Background(), []types.PollID{e.PollID, second})
	c.Assert(err, qt.IsNil)
	c.Assert(results, qt.HasLen, 2)
	c.Assert(results[e.PollID].IsQuadratic, qt.IsTrue)
	c.Assert(results[second].IsQuadratic, qt.IsFalse)
	// nobody voted in the second poll
	c.Assert(results[second].TotalSpentVoiceCredits.Spent.MathBigInt().Sign(), qt.Equals, 0)

	// the blank ballot and four voters
	process, tally := prover.counts(second)
	c.Assert(process, qt.Equals, 1)
	c.Assert(tally, qt.Equals, tallyBatches(c, e, second))
	c.Assert(tally, qt.Equals, 3)

	snapshot, err := stg.LoadRegistry("main", state.WithClock(e.Clock))
	c.Assert(err, qt.IsNil)
	c.Assert(snapshot.Equal(e.Registry), qt.IsTrue)
	p, err := snapshot.Poll(second)
	c.Assert(err, qt.IsNil)
	c.Assert(p.Phase(), qt.Equals, state.PhaseComplete)
}

func TestFinalizePollsStopsOnError(t *testing.T) {
	c := qt.New(t)
	e := statetest.NewElection(t, types.ModeQV, 2, 2, 100)
	e.VoteAll(t)
	e.Close()
	coord := New(e.Registry, newStorage(t), nil, Options{})

	_, err := coord.FinalizePolls(context.Background(), []types.PollID{e.PollID, e.PollID + 5})
	c.Assert(err, qt.ErrorIs, state.ErrPollNotFound)
}

func TestMonitor(t *testing.T) {
	c := qt.New(t)
	e := statetest.NewElection(t, types.ModeQV, 5, 2, 100)
	e.VoteAll(t)
	stg := newStorage(t)
	coord := New(e.Registry, stg, nil, Options{Snapshot: "main"})
	coord.Start(context.Background(), 10*time.Millisecond)
	defer coord.Close()

	// open polls are left alone
	time.Sleep(50 * time.Millisecond)
	c.Assert(stg.HasTallyData(e.PollID), qt.IsFalse)

	e.Close()
	deadline := time.Now().Add(10 * time.Second)
	// the checkpoint follows the stored tally
	for {
		names, err := stg.Registries()
		c.Assert(err, qt.IsNil)
		if stg.HasTallyData(e.PollID) && len(names) == 1 {
			c.Assert(names, qt.DeepEquals, []string{"main"})
			break
		}
		if time.Now().After(deadline) {
			c.Fatal("poll was not finalized")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
