// Package blockcache serves catch-up block queries from a store instead
// of the base chain where possible. Only blocks buried deep enough to be
// effectively immutable are cached; anything near the tip goes straight to
// the chain.
package blockcache

import (
	"context"

	logger "log/slog"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/indexing/metrics"
	"github.com/vietddude/gamelink/internal/infra/storage"
)

// Source is the underlying block supplier, usually the chain adapter.
type Source interface {
	GetTipHeight(ctx context.Context) (uint64, error)
	GetBlockRange(ctx context.Context, start, count uint64) ([]domain.Block, error)
}

type CachingSource struct {
	source   Source
	store    storage.BlockStore
	minDepth uint64
	log      logger.Logger
}

// New wraps source with the given store. Ranges ending fewer than
// minDepth blocks below the tip bypass the cache entirely.
func New(source Source, store storage.BlockStore, minDepth uint64) *CachingSource {
	return &CachingSource{
		source:   source,
		store:    store,
		minDepth: minDepth,
		log:      *logger.Default(),
	}
}

func (c *CachingSource) GetTipHeight(ctx context.Context) (uint64, error) {
	return c.source.GetTipHeight(ctx)
}

func (c *CachingSource) GetBlockRange(
	ctx context.Context,
	start, count uint64,
) ([]domain.Block, error) {
	if count == 0 || c.store == nil {
		return c.source.GetBlockRange(ctx, start, count)
	}

	tip, err := c.source.GetTipHeight(ctx)
	if err != nil {
		return nil, err
	}
	end := start + count - 1
	if end+c.minDepth > tip {
		return c.source.GetBlockRange(ctx, start, count)
	}

	cached, err := c.store.GetRange(ctx, start, count)
	if err != nil {
		c.log.Warn("Block store lookup failed", "error", err)
	} else if cached != nil {
		metrics.BlockCacheHits.Inc()
		return cached, nil
	}
	metrics.BlockCacheMisses.Inc()

	blocks, err := c.source.GetBlockRange(ctx, start, count)
	if err != nil {
		return nil, err
	}
	if uint64(len(blocks)) == count {
		if err := c.store.PutRange(ctx, blocks); err != nil {
			c.log.Warn("Failed to cache blocks", "error", err)
		}
	}
	return blocks, nil
}
