// Package chainstate maintains the local view of the base chain as a
// bounded tree of recently seen blocks. Blocks live in an arena keyed by
// hash; every block carries a branch number, where branch zero is the
// current main chain and other numbers identify fork branches that may be
// reactivated by a reorg.
package chainstate

import (
	"fmt"
	"log/slog"

	"github.com/vietddude/gamelink/internal/core/domain"
)

type entry struct {
	block  domain.Block
	branch uint64
}

// Chainstate is the in-memory block arena. It is not safe for concurrent
// use; the owning controller guards it with a single mutex shared between
// the follower and the RPC handlers.
type Chainstate struct {
	chain string

	blocks     map[string]*entry
	mainchain  map[uint64]string
	tipHeight  int64
	nextBranch uint64

	// lowestUnpruned is the lowest height for which block data is still
	// retained. Everything below has been evicted.
	lowestUnpruned uint64

	log *slog.Logger
}

// New creates an empty chain state.
func New() *Chainstate {
	return &Chainstate{
		blocks:     make(map[string]*entry),
		mainchain:  make(map[uint64]string),
		tipHeight:  -1,
		nextBranch: 1,
		log:        slog.Default(),
	}
}

// SetChain records the chain string this state belongs to. Changing it
// while blocks are present indicates a misconfigured connector.
func (c *Chainstate) SetChain(chain string) error {
	if c.chain != "" && c.chain != chain {
		return fmt.Errorf("chain state is for %q, cannot be used for %q", c.chain, chain)
	}
	c.chain = chain
	return nil
}

// Chain returns the chain string set via SetChain.
func (c *Chainstate) Chain() string {
	return c.chain
}

// TipHeight returns the height of the current main-chain tip, or -1 if no
// blocks have been imported yet.
func (c *Chainstate) TipHeight() int64 {
	return c.tipHeight
}

// LowestUnprunedHeight returns the lowest height still retained.
func (c *Chainstate) LowestUnprunedHeight() uint64 {
	return c.lowestUnpruned
}

// HashForHeight returns the main-chain block hash at the given height.
// Heights below the retained window yield domain.ErrBlockPruned, heights
// above the tip domain.ErrBlockNotFound.
func (c *Chainstate) HashForHeight(height uint64) (string, error) {
	if hash, ok := c.mainchain[height]; ok {
		return hash, nil
	}
	if c.tipHeight >= 0 && height < c.lowestUnpruned {
		return "", domain.ErrBlockPruned
	}
	return "", domain.ErrBlockNotFound
}

// HeightForHash returns the height of a known block (on any branch).
func (c *Chainstate) HeightForHash(hash string) (uint64, bool) {
	e, ok := c.blocks[hash]
	if !ok {
		return 0, false
	}
	return e.block.Height, true
}

// ImportTip discards the current state and starts over with blk as the
// sole (main-chain) block. Used when syncing starts fresh or when the
// local state has diverged beyond repair.
func (c *Chainstate) ImportTip(blk domain.Block) {
	c.log.Info("Importing fresh chain state tip",
		"hash", blk.Hash, "height", blk.Height)

	c.blocks = map[string]*entry{blk.Hash: {block: blk}}
	c.mainchain = map[uint64]string{blk.Height: blk.Hash}
	c.tipHeight = int64(blk.Height)
	c.nextBranch = 1
	c.lowestUnpruned = blk.Height
}

// SetTip makes blk the new main-chain tip. The block is either already
// known (its branch is reactivated) or attached to a known parent. Returns
// the previous tip hash and false if the block cannot be attached because
// its parent is unknown or the state is empty.
func (c *Chainstate) SetTip(blk domain.Block) (oldTip string, ok bool) {
	if c.tipHeight < 0 {
		c.log.Warn("Chain state has no blocks, cannot attach new tip", "hash", blk.Hash)
		return "", false
	}
	oldTip = c.mainchain[uint64(c.tipHeight)]

	if e, known := c.blocks[blk.Hash]; known {
		if e.block.Parent != blk.Parent || e.block.Height != blk.Height {
			c.log.Error("Known block does not match new tip data", "hash", blk.Hash)
			return "", false
		}
		c.markAsTip(e)
		return oldTip, true
	}

	parent, known := c.blocks[blk.Parent]
	if !known {
		c.log.Warn("Cannot attach tip, parent block is unknown",
			"hash", blk.Hash, "parent", blk.Parent)
		return "", false
	}
	if blk.Height != parent.block.Height+1 {
		c.log.Error("Height mismatch for new block",
			"hash", blk.Hash, "height", blk.Height, "parent", blk.Parent)
		return "", false
	}

	e := &entry{block: blk, branch: c.freeBranch()}
	c.blocks[blk.Hash] = e
	c.markAsTip(e)
	return oldTip, true
}

func (c *Chainstate) freeBranch() uint64 {
	b := c.nextBranch
	c.nextBranch++
	return b
}

// markAsTip promotes an existing block to the main-chain tip, swapping
// branch assignments along the path to the old main chain.
func (c *Chainstate) markAsTip(e *entry) {
	if e.branch == 0 {
		// Already on the main chain; everything above it becomes a branch.
		branch := c.freeBranch()
		for h := e.block.Height + 1; h <= uint64(c.tipHeight); h++ {
			hash, ok := c.mainchain[h]
			if !ok {
				break
			}
			c.blocks[hash].branch = branch
			delete(c.mainchain, h)
		}
	} else {
		branch, err := c.ForkBranch(e.block.Hash)
		if err != nil || len(branch) == 0 {
			// Cannot happen for a block that exists off the main chain.
			c.log.Error("Failed to get fork branch for new tip", "hash", e.block.Hash, "error", err)
			return
		}
		forkHeight := branch[len(branch)-1].Height

		// Old main-chain blocks beyond the fork point move to a new branch.
		newBranch := c.freeBranch()
		for h := forkHeight; h <= uint64(c.tipHeight); h++ {
			hash, ok := c.mainchain[h]
			if !ok {
				continue
			}
			c.blocks[hash].branch = newBranch
			delete(c.mainchain, h)
		}

		// The reactivated branch becomes the main chain.
		for _, blk := range branch {
			c.blocks[blk.Hash].branch = 0
			c.mainchain[blk.Height] = blk.Hash
		}
	}

	c.tipHeight = int64(e.block.Height)
}

// ForkBranch returns the branch of blocks from hash (inclusive) down to,
// but not including, the fork point with the main chain, ordered from the
// requested block toward the fork point. An empty result means the block
// is on the main chain; an unknown hash yields domain.ErrBlockNotFound.
func (c *Chainstate) ForkBranch(hash string) ([]domain.Block, error) {
	e, ok := c.blocks[hash]
	if !ok {
		return nil, domain.ErrBlockNotFound
	}

	var branch []domain.Block
	for e.branch != 0 {
		branch = append(branch, e.block)
		parent, ok := c.blocks[e.block.Parent]
		if !ok {
			return nil, fmt.Errorf("parent %s of branch block %s is not retained: %w",
				e.block.Parent, e.block.Hash, domain.ErrBlockPruned)
		}
		e = parent
	}
	return branch, nil
}

// Prune evicts all blocks at heights up to and including untilHeight,
// bounding the arena to the reorg window. Branch blocks at those heights
// can no longer be reorged back within the window and are evicted as well.
func (c *Chainstate) Prune(untilHeight uint64) {
	if untilHeight+1 <= c.lowestUnpruned {
		return
	}

	cnt := 0
	for hash, e := range c.blocks {
		if e.block.Height <= untilHeight {
			delete(c.blocks, hash)
			if e.branch == 0 {
				delete(c.mainchain, e.block.Height)
			}
			cnt++
		}
	}
	c.lowestUnpruned = untilHeight + 1

	if cnt > 0 {
		c.log.Info("Pruned blocks from chain state",
			"count", cnt, "until_height", untilHeight)
	}
}

// SanityCheck verifies internal invariants. It walks all branches and is
// meant for testing and debug runs, not the hot path.
func (c *Chainstate) SanityCheck() error {
	if len(c.blocks) == 0 {
		return nil
	}

	if c.tipHeight < 0 {
		return fmt.Errorf("blocks present but no tip height")
	}
	tipHash, ok := c.mainchain[uint64(c.tipHeight)]
	if !ok {
		return fmt.Errorf("no main-chain block at tip height %d", c.tipHeight)
	}
	if c.blocks[tipHash].branch != 0 {
		return fmt.Errorf("tip block %s is not on branch zero", tipHash)
	}

	// Main chain must be contiguous and linked from the tip down.
	cur := c.blocks[tipHash]
	for {
		parent, ok := c.blocks[cur.block.Parent]
		if !ok {
			break
		}
		if parent.branch != 0 {
			return fmt.Errorf("main-chain parent %s has branch %d",
				cur.block.Parent, parent.branch)
		}
		if parent.block.Height+1 != cur.block.Height {
			return fmt.Errorf("height gap between %s and %s",
				parent.block.Hash, cur.block.Hash)
		}
		cur = parent
	}

	// Every block must be linked back to the main chain through blocks
	// whose heights decrease by exactly one.
	for hash, e := range c.blocks {
		if e.branch == 0 {
			if c.mainchain[e.block.Height] != hash {
				return fmt.Errorf("main-chain block %s not in height index", hash)
			}
			continue
		}
		if _, err := c.ForkBranch(hash); err != nil {
			return fmt.Errorf("branch block %s: %w", hash, err)
		}
	}

	return nil
}
