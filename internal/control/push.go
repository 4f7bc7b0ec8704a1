package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/indexing/metrics"
)

// maxUpdatesBatch bounds the attach blocks fetched for one catch-up
// request; consumers issue a follow-up game_sendupdates from the returned
// toblock to continue.
const maxUpdatesBatch = 1024

// Updates summarises a catch-up computation. The blocks themselves are
// replayed over ZMQ tagged with Reqtoken.
type Updates struct {
	Detach   int
	Attach   int
	ToBlock  string
	Reqtoken string
}

// computeSteps determines the detach and attach block lists moving a
// consumer from the given block onto the current canonical chain. Must be
// called with the chainstate mutex held.
//
// When given is non-nil it holds blocks just applied by a follower step
// and no extra fetch happens. Otherwise the missing range is read through
// the caching source while the lock is held, so concurrent followers
// cannot invalidate the computed fork point.
func (c *Controller) computeSteps(
	ctx context.Context,
	from string,
	given []domain.Block,
) (detach, attach []domain.Block, err error) {
	var forkHeight uint64
	var expectedParent string

	if from == "" {
		// No reference point; start from the oldest retained block.
		forkHeight = c.state.LowestUnprunedHeight()
	} else {
		detach, err = c.state.ForkBranch(from)
		if err != nil {
			return nil, nil, err
		}
		if len(detach) == 0 {
			height, ok := c.state.HeightForHash(from)
			if !ok {
				return nil, nil, domain.ErrBlockNotFound
			}
			forkHeight = height + 1
			expectedParent = from
		} else {
			last := detach[len(detach)-1]
			forkHeight = last.Height
			expectedParent = last.Parent
		}
	}

	if given != nil {
		return detach, attachFromGiven(detach, given, forkHeight, expectedParent), nil
	}

	tipHeight := c.state.TipHeight()
	if tipHeight < 0 || uint64(tipHeight) < forkHeight {
		return detach, nil, nil
	}

	num := uint64(tipHeight) + 1 - forkHeight
	if num > maxUpdatesBatch {
		num = maxUpdatesBatch
	}

	blocks, err := c.source.GetBlockRange(ctx, forkHeight, num)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch attach blocks: %w", err)
	}
	if len(blocks) == 0 {
		return detach, nil, nil
	}

	// The source answers from the live chain, which may have moved on
	// past our snapshot. Deliver the detaches only; the consumer's next
	// request picks up from the fork point again.
	if expectedParent != "" && blocks[0].Parent != expectedParent {
		c.log.Warn("Attach range does not extend fork point, chain moved",
			"fork_height", forkHeight)
		return detach, nil, nil
	}
	last := blocks[len(blocks)-1]
	if _, ok := c.state.HeightForHash(last.Hash); !ok {
		c.log.Warn("Attach range ends off the tracked chain, chain moved",
			"hash", last.Hash, "height", last.Height)
		return detach, nil, nil
	}

	return detach, blocks, nil
}

// attachFromGiven selects the attach suffix out of blocks a follower step
// already applied.
func attachFromGiven(
	detach, given []domain.Block,
	forkHeight uint64,
	expectedParent string,
) []domain.Block {
	// A reorg onto a shorter chain re-applies the fork parent itself as
	// the final block; nothing attaches.
	if len(detach) > 0 && len(given) == 1 && given[0].Hash == expectedParent {
		return nil
	}
	for i, blk := range given {
		if blk.Height == forkHeight {
			if expectedParent != "" && blk.Parent != expectedParent {
				return nil
			}
			return given[i:]
		}
	}
	return nil
}

// TipUpdatedFrom implements the follower callback: it publishes the
// detach and attach notifications for one tip move and maintains the
// retention window.
func (c *Controller) TipUpdatedFrom(oldTip string, attaches []domain.Block) {
	ctx := context.Background()

	c.mu.Lock()
	detach, attach, err := c.computeSteps(ctx, oldTip, attaches)
	tipHeight := c.state.TipHeight()
	var tipHash string
	if tipHeight >= 0 {
		tipHash, _ = c.state.HashForHeight(uint64(tipHeight))
	}
	if err == nil && tipHeight >= 0 && uint64(tipHeight) > c.cfg.Sync.PruningDepth {
		c.state.Prune(uint64(tipHeight) - c.cfg.Sync.PruningDepth - 1)
	}
	if c.cfg.Sync.SanityChecks {
		if serr := c.state.SanityCheck(); serr != nil {
			c.log.Error("Chainstate sanity check failed", "error", serr)
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error("Failed to compute update steps", "from", oldTip, "error", err)
		return
	}

	for _, blk := range detach {
		c.pub.SendBlockDetach(blk, "")
	}
	for _, blk := range attach {
		c.pub.SendBlockAttach(blk, "")
	}

	metrics.BlocksDetached.Add(float64(len(detach)))
	metrics.BlocksAttached.Add(float64(len(attach)))
	if tipHeight >= 0 {
		metrics.ChainTipHeight.Set(float64(tipHeight))
	}

	if tipHash != "" {
		c.pending.ChainstateTipChanged(tipHash)
	}
}

// GameSendUpdates computes the steps from the given block to the current
// tip and replays them over ZMQ tagged with a fresh reqtoken. toBlock,
// when non-empty and on the attach path, caps the replay early.
func (c *Controller) GameSendUpdates(
	ctx context.Context,
	from, toBlock string,
) (Updates, error) {
	c.mu.Lock()
	detach, attach, err := c.computeSteps(ctx, from, nil)
	c.mu.Unlock()
	if err != nil {
		if errors.Is(err, domain.ErrBlockNotFound) || errors.Is(err, domain.ErrBlockPruned) {
			return Updates{}, err
		}
		return Updates{}, fmt.Errorf("failed to compute update steps: %w", err)
	}

	if toBlock != "" {
		for i, blk := range attach {
			if blk.Hash == toBlock {
				attach = attach[:i+1]
				break
			}
		}
		// toBlock may also sit on the branch being unwound.
		for i, blk := range detach {
			if blk.Parent == toBlock {
				detach = detach[:i+1]
				attach = nil
				break
			}
		}
	}

	result := Updates{
		Detach:   len(detach),
		Attach:   len(attach),
		Reqtoken: uuid.NewString(),
	}
	switch {
	case len(attach) > 0:
		result.ToBlock = attach[len(attach)-1].Hash
	case len(detach) > 0:
		result.ToBlock = detach[len(detach)-1].Parent
	default:
		result.ToBlock = from
	}

	for _, blk := range detach {
		c.pub.SendBlockDetach(blk, result.Reqtoken)
	}
	for _, blk := range attach {
		c.pub.SendBlockAttach(blk, result.Reqtoken)
	}

	return result, nil
}
