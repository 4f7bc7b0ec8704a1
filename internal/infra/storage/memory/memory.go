// Package memory provides the in-process block store, bounded to a
// configured number of most-recent heights.
package memory

import (
	"context"
	"sync"

	"github.com/vietddude/gamelink/internal/core/domain"
)

type MemoryStore struct {
	mu      sync.RWMutex
	blocks  map[uint64]domain.Block
	highest uint64
	retain  uint64
}

// NewMemoryStore creates a store keeping at most retain heights below the
// highest block ever written; retain 0 means unbounded.
func NewMemoryStore(retain uint64) *MemoryStore {
	return &MemoryStore{
		blocks: make(map[uint64]domain.Block),
		retain: retain,
	}
}

func (s *MemoryStore) GetRange(
	ctx context.Context,
	start, count uint64,
) ([]domain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Block, 0, count)
	for h := start; h < start+count; h++ {
		blk, ok := s.blocks[h]
		if !ok {
			return nil, nil
		}
		out = append(out, blk)
	}
	return out, nil
}

func (s *MemoryStore) PutRange(ctx context.Context, blocks []domain.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, blk := range blocks {
		s.blocks[blk.Height] = blk
		if blk.Height > s.highest {
			s.highest = blk.Height
		}
	}
	s.evict()
	return nil
}

// evict drops heights below the retained window. Callers hold s.mu.
func (s *MemoryStore) evict() {
	if s.retain == 0 || s.highest < s.retain {
		return
	}
	floor := s.highest - s.retain
	for h := range s.blocks {
		if h < floor {
			delete(s.blocks, h)
		}
	}
}

func (s *MemoryStore) Close() error {
	return nil
}
