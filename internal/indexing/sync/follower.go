// Package sync keeps the local chainstate trailing the base chain. A
// single follower task owns all chainstate writes; it is woken by push
// notifications and by a forced-resync timer, so a missed notification
// heals itself within one timer period.
package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	logger "log/slog"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/indexing/chainstate"
)

// Blocks queried per step start at one and double on every full batch up
// to this bound.
const maxBlockRange = 128

// ErrReorgBeyondPruning means the base chain reorged past the retained
// window; the daemon cannot recover its notification stream and has to be
// restarted with a deeper window.
var ErrReorgBeyondPruning = errors.New("base chain reorged beyond the pruning depth")

// BlockSource is the part of the chain adapter the follower needs.
type BlockSource interface {
	GetTipHeight(ctx context.Context) (uint64, error)
	GetBlockRange(ctx context.Context, start, count uint64) ([]domain.Block, error)
}

// Callbacks is notified after the chainstate tip moved. oldTip is empty on
// the very first tip; attaches are the blocks applied in this step, which
// may overlap blocks already on the chain.
type Callbacks interface {
	TipUpdatedFrom(oldTip string, attaches []domain.Block)
}

type Follower struct {
	source BlockSource
	state  *chainstate.Chainstate
	mu     *gosync.Mutex
	cb     Callbacks
	log    logger.Logger

	pruningDepth uint64
	interval     time.Duration

	notify chan struct{}

	// Step state, only touched by the Run goroutine.
	numBlocks       uint64
	nextStartHeight int64
}

// New creates a follower writing to state under mu, which is shared with
// every other reader of the chainstate.
func New(
	source BlockSource,
	state *chainstate.Chainstate,
	mu *gosync.Mutex,
	cb Callbacks,
	pruningDepth uint64,
	interval time.Duration,
) *Follower {
	return &Follower{
		source:          source,
		state:           state,
		mu:              mu,
		cb:              cb,
		log:             *logger.Default(),
		pruningDepth:    pruningDepth,
		interval:        interval,
		notify:          make(chan struct{}, 1),
		numBlocks:       1,
		nextStartHeight: -1,
	}
}

// TipChanged wakes the follower; safe to call from any goroutine.
func (f *Follower) TipChanged(tip string) {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Run drives update steps until ctx is cancelled. Transient adapter
// failures are logged and retried on the next wakeup; only an
// unrecoverable reorg aborts the follower.
func (f *Follower) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		more, err := f.updateStep(ctx)
		switch {
		case errors.Is(err, ErrReorgBeyondPruning):
			f.log.Error("Chain reorged beyond the pruning depth, giving up")
			return err
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			f.log.Warn("Chain update failed, will retry", "error", err)
		case more:
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-f.notify:
		case <-ticker.C:
		}
	}
}

// updateStep performs one synchronisation round. The returned bool
// indicates that more blocks are likely waiting and the next step should
// run immediately.
func (f *Follower) updateStep(ctx context.Context) (bool, error) {
	f.mu.Lock()
	tipHeight := f.state.TipHeight()
	lowestUnpruned := f.state.LowestUnprunedHeight()
	f.mu.Unlock()

	if tipHeight < 0 {
		return f.bootstrap(ctx)
	}

	startHeight := uint64(tipHeight)
	if f.nextStartHeight >= 0 {
		startHeight = uint64(f.nextStartHeight)
	}
	num := f.numBlocks
	if num < 3 {
		num = 3
	}

	blocks, err := f.source.GetBlockRange(ctx, startHeight, num)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	oldTip := ""
	if hash, err := f.state.HashForHeight(uint64(tipHeight)); err == nil {
		oldTip = hash
	}

	// If the fetched blocks continue a stored side branch, applying them
	// reactivates that branch. The branch blocks become part of the new
	// main chain and must be reported as attaches too, so capture them
	// before SetTip flips their branch assignment.
	var reactivated []domain.Block
	if len(blocks) > 0 {
		if branch, err := f.state.ForkBranch(blocks[0].Parent); err == nil {
			for i := len(branch) - 1; i >= 0; i-- {
				reactivated = append(reactivated, branch[i])
			}
		}
	}

	applied := true
	for _, blk := range blocks {
		if _, ok := f.state.SetTip(blk); !ok {
			applied = false
			break
		}
	}
	var newTip string
	if h := f.state.TipHeight(); h >= 0 {
		if hash, err := f.state.HashForHeight(uint64(h)); err == nil {
			newTip = hash
		}
	}
	f.mu.Unlock()

	if !applied || len(blocks) == 0 {
		// The blocks do not connect to anything we have; the fork point
		// is below startHeight, so walk further back.
		if startHeight <= lowestUnpruned {
			return false, ErrReorgBeyondPruning
		}
		next := lowestUnpruned
		if startHeight > num && startHeight-num > lowestUnpruned {
			next = startHeight - num
		}
		f.log.Info("Walking back to find the fork point",
			"from", startHeight, "to", next)
		f.nextStartHeight = int64(next)
		if f.numBlocks < maxBlockRange {
			f.numBlocks *= 2
		}
		return true, nil
	}
	f.nextStartHeight = -1

	if newTip != oldTip && f.cb != nil {
		f.cb.TipUpdatedFrom(oldTip, append(reactivated, blocks...))
	}

	if uint64(len(blocks)) < num {
		// Caught up with the base chain.
		f.numBlocks = 1
		return false, nil
	}
	if f.numBlocks < maxBlockRange {
		f.numBlocks *= 2
	}
	return true, nil
}

// bootstrap imports the first tip, pruningDepth blocks below the current
// base-chain tip so an early reorg stays inside the window.
func (f *Follower) bootstrap(ctx context.Context) (bool, error) {
	baseTip, err := f.source.GetTipHeight(ctx)
	if err != nil {
		return false, err
	}
	start := uint64(0)
	if baseTip > f.pruningDepth {
		start = baseTip - f.pruningDepth
	}

	blocks, err := f.source.GetBlockRange(ctx, start, 1)
	if err != nil {
		return false, err
	}
	if len(blocks) == 0 {
		return false, nil
	}

	f.mu.Lock()
	f.state.ImportTip(blocks[0])
	f.mu.Unlock()

	f.log.Info("Imported initial tip",
		"hash", blocks[0].Hash, "height", blocks[0].Height)
	if f.cb != nil {
		f.cb.TipUpdatedFrom("", blocks)
	}
	return true, nil
}
