package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/types"
)

// Start finalizes the polls sent on OndemandCh and, if monitorInterval is
// not zero, every poll whose voting period is over and has no stored tally.
// Polls are finalized one at a time and the registry is checkpointed after
// each of them.
func (c *Coordinator) Start(ctx context.Context, monitorInterval time.Duration) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var tick <-chan time.Time
		if monitorInterval > 0 {
			ticker := time.NewTicker(monitorInterval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case id := <-c.OndemandCh:
				c.finalize(ctx, id)
			case <-tick:
				for _, id := range c.closedPolls() {
					if ctx.Err() != nil {
						return
					}
					c.finalize(ctx, id)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Infow("coordinator started", "monitorInterval", monitorInterval.String())
}

// Close stops the monitor and waits for the running finalization.
func (c *Coordinator) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Infow("coordinator closed")
	case <-time.After(5 * time.Second):
		log.Warnw("coordinator monitor did not exit cleanly")
	}
}

// closedPolls returns the polls past their voting period without a stored
// tally.
func (c *Coordinator) closedPolls() []types.PollID {
	var ids []types.PollID
	for _, id := range c.registry.Polls() {
		poll, err := c.registry.Poll(id)
		if err != nil || poll.IsOpen() || !poll.HasCoordinatorKey() {
			continue
		}
		if c.stg.HasTallyData(id) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) finalize(ctx context.Context, id types.PollID) {
	if _, err := c.FinalizePoll(ctx, id); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Errorw(err, "could not finalize poll "+id.String())
		}
		return
	}
	if err := c.Checkpoint(); err != nil {
		log.Errorw(err, "could not checkpoint registry")
	}
}
