// Package coordinator drives closed polls to their final tally: it
// processes every message batch, tallies every ballot batch, hands the
// circuit inputs of each batch to a prover and persists the results.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/state"
	"github.com/vocdoni/maci-coordinator/storage"
	"github.com/vocdoni/maci-coordinator/types"
)

// ErrPollBusy is returned when the poll is already being finalized.
var ErrPollBusy = errors.New("poll is already being finalized")

// Prover receives the circuit inputs of every batch. An error stops the
// finalization; the job stays pending in storage.
type Prover interface {
	ProveProcessMessages(ctx context.Context, pollID types.PollID, in *state.ProcessMessagesInputs) error
	ProveTally(ctx context.Context, pollID types.PollID, in *state.TallyVotesInputs) error
}

// Options are the deployment details copied into the exported tallies and
// the knobs of the coordinator.
type Options struct {
	// Snapshot is the storage name the registry is checkpointed under. An
	// empty name disables checkpoints.
	Snapshot     string
	MaciAddress  common.Address
	TallyAddress common.Address
	Network      string
	ChainID      string
	// Workers bounds the polls finalized at once by FinalizePolls. Zero
	// means no bound.
	Workers int
}

// Coordinator finalizes the polls of one registry.
type Coordinator struct {
	registry *state.MaciState
	stg      *storage.Storage
	prover   Prover
	opts     Options

	// finalizations hold the read side, checkpoints the write side, so a
	// snapshot never sees a poll halfway through a batch.
	snapshotMu sync.RWMutex
	inflightMu sync.Mutex
	inflight   map[types.PollID]struct{}

	// OndemandCh queues polls for the monitor started by Start.
	OndemandCh chan types.PollID
	wg         sync.WaitGroup
	cancel     context.CancelFunc
}

// New returns a coordinator for registry. The prover may be nil.
func New(registry *state.MaciState, stg *storage.Storage, prover Prover, opts Options) *Coordinator {
	return &Coordinator{
		registry:   registry,
		stg:        stg,
		prover:     prover,
		opts:       opts,
		inflight:   make(map[types.PollID]struct{}),
		OndemandCh: make(chan types.PollID, 16),
	}
}

// Registry returns the registry being coordinated.
func (c *Coordinator) Registry() *state.MaciState { return c.registry }

func (c *Coordinator) claim(id types.PollID) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if _, ok := c.inflight[id]; ok {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id types.PollID) {
	c.inflightMu.Lock()
	delete(c.inflight, id)
	c.inflightMu.Unlock()
}

// FinalizePoll processes and tallies a closed poll and stores its tally.
// A poll whose tally is already stored returns the stored tally. The
// context is checked between batches.
func (c *Coordinator) FinalizePoll(ctx context.Context, id types.PollID) (*state.TallyData, error) {
	poll, err := c.registry.Poll(id)
	if err != nil {
		return nil, err
	}
	if !c.claim(id) {
		return nil, fmt.Errorf("%w: %s", ErrPollBusy, id)
	}
	defer c.release(id)
	c.snapshotMu.RLock()
	defer c.snapshotMu.RUnlock()

	if td, err := c.stg.TallyData(id); err == nil {
		return td, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if poll.IsOpen() {
		return nil, fmt.Errorf("poll %s: %w", id, state.ErrVotingPeriodNotOver)
	}
	if !poll.HasCoordinatorKey() {
		return nil, fmt.Errorf("poll %s: %w", id, state.ErrCoordinatorKeyMissing)
	}
	start := time.Now()
	if !poll.StateCopied() {
		if err := c.registry.UpdatePoll(id); err != nil {
			return nil, err
		}
	}
	if err := c.processMessages(ctx, poll); err != nil {
		return nil, err
	}
	if err := c.tallyVotes(ctx, poll); err != nil {
		return nil, err
	}

	td, err := poll.TallyData()
	if err != nil {
		return nil, err
	}
	td.Maci = c.opts.MaciAddress
	td.TallyAddress = c.opts.TallyAddress
	td.Network = c.opts.Network
	td.ChainID = c.opts.ChainID
	if err := c.stg.SaveTallyData(td); err != nil {
		return nil, fmt.Errorf("store tally of poll %s: %w", id, err)
	}
	log.Infow("poll finalized",
		"pollID", id.String(),
		"mode", poll.Mode().String(),
		"messageBatches", poll.NumBatchesProcessed(),
		"tallyBatches", poll.NumBatchesTallied(),
		"totalSpent", td.TotalSpentVoiceCredits.Spent.String(),
		"took", time.Since(start).String(),
	)
	return td, nil
}

func (c *Coordinator) processMessages(ctx context.Context, poll *state.Poll) error {
	for poll.HasUnprocessedMessages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		in, err := poll.ProcessMessages()
		if err != nil {
			return fmt.Errorf("process messages of poll %s: %w", poll.ID(), err)
		}
		batch := poll.NumBatchesProcessed() - 1
		log.Debugw("message batch processed",
			"pollID", poll.ID().String(),
			"batch", batch,
			"remaining", poll.ProcessingCursor(),
		)
		err = c.prove(poll.ID(), storage.ProverJobProcessMessages, batch, in, func() error {
			return c.prover.ProveProcessMessages(ctx, poll.ID(), in)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) tallyVotes(ctx context.Context, poll *state.Poll) error {
	for poll.HasUntalliedBallots() {
		if err := ctx.Err(); err != nil {
			return err
		}
		in, err := poll.Tally()
		if err != nil {
			return fmt.Errorf("tally votes of poll %s: %w", poll.ID(), err)
		}
		batch := poll.NumBatchesTallied() - 1
		log.Debugw("ballot batch tallied", "pollID", poll.ID().String(), "batch", batch)
		err = c.prove(poll.ID(), storage.ProverJobTallyVotes, batch, in, func() error {
			return c.prover.ProveTally(ctx, poll.ID(), in)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// prove stores the inputs as a prover job and runs the prover on them.
// Jobs proven successfully are removed.
func (c *Coordinator) prove(id types.PollID, kind storage.ProverJobKind, batch uint64, inputs any, run func() error) error {
	job, err := storage.NewProverJob(id, kind, batch, inputs)
	if err != nil {
		return err
	}
	if _, err := c.stg.PushProverJob(job); err != nil {
		return err
	}
	if c.prover == nil {
		return nil
	}
	if err := run(); err != nil {
		return fmt.Errorf("prove %s batch %d of poll %s: %w", kind, batch, id, err)
	}
	return c.stg.MarkProverJobDone(job.ID)
}

// FinalizePolls finalizes the given polls concurrently, one goroutine per
// poll, and checkpoints the registry once they are all done. The first
// error cancels the remaining finalizations.
func (c *Coordinator) FinalizePolls(ctx context.Context, ids []types.PollID) (map[types.PollID]*state.TallyData, error) {
	var (
		mu      sync.Mutex
		results = make(map[types.PollID]*state.TallyData, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	if c.opts.Workers > 0 {
		g.SetLimit(c.opts.Workers)
	}
	for _, id := range ids {
		g.Go(func() error {
			td, err := c.FinalizePoll(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			results[id] = td
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if cerr := c.Checkpoint(); cerr != nil {
		log.Errorw(cerr, "could not checkpoint registry")
		if err == nil {
			err = cerr
		}
	}
	if err != nil {
		return results, err
	}
	return results, nil
}

// Checkpoint stores a snapshot of the registry under the configured name.
// It waits for running finalizations to finish their current poll.
func (c *Coordinator) Checkpoint() error {
	if c.opts.Snapshot == "" {
		return nil
	}
	c.snapshotMu.Lock()
	defer c.snapshotMu.Unlock()
	return c.stg.SaveRegistry(c.opts.Snapshot, c.registry)
}
