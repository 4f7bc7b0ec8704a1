// Package storage defines the block-store contract shared by the cache
// backends.
package storage

import (
	"context"

	"github.com/vietddude/gamelink/internal/core/domain"
)

// BlockStore caches immutable main-chain blocks by height. A store never
// serves partial data: GetRange answers with the full requested range or
// reports a miss by returning nil.
type BlockStore interface {
	// GetRange returns count consecutive blocks starting at height start,
	// or nil if any of them is absent.
	GetRange(ctx context.Context, start, count uint64) ([]domain.Block, error)

	// PutRange stores the given blocks, overwriting whatever was cached
	// for their heights.
	PutRange(ctx context.Context, blocks []domain.Block) error

	Close() error
}
