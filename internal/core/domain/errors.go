package domain

import "errors"

var (
	// ErrBlockNotFound indicates a block hash or height that is not part
	// of the tracked chain state.
	ErrBlockNotFound = errors.New("block not found")

	// ErrBlockPruned indicates a block that was part of the chain but is
	// older than the retained reorg window. Callers should resynchronise
	// from a more recent checkpoint rather than retry.
	ErrBlockPruned = errors.New("block pruned")
)
