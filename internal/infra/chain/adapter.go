package chain

import (
	"context"

	"github.com/vietddude/gamelink/internal/core/domain"
)

// Callbacks receives push notifications from an Adapter. Implementations
// must be safe for concurrent use; adapters may invoke them from their own
// listener goroutines.
type Callbacks interface {
	// TipChanged is invoked when the best tip of the base chain changes.
	// The new tip hash is advisory; the follower re-queries the chain
	// rather than trusting it.
	TipChanged(tip string)

	// PendingMoves is invoked with the moves extracted from one pending
	// transaction observed in the mempool.
	PendingMoves(moves []domain.Move)
}

// Adapter translates one ledger's native representation into the
// chain-agnostic block and move model. The two variants (UTXO and
// account-based) are selected at startup. Methods may be called
// concurrently and must be thread-safe.
type Adapter interface {
	// Start connects push-notification listeners. Query methods may be
	// used before Start.
	Start(ctx context.Context) error

	// SetCallbacks registers the receiver of push notifications. Passing
	// nil detaches the current receiver.
	SetCallbacks(cb Callbacks)

	// GetTipHeight returns the height of the current best tip.
	GetTipHeight(ctx context.Context) (uint64, error)

	// GetBlockRange retrieves blocks with all associated data on the main
	// chain from height start (inclusive) onward. If there are fewer than
	// count blocks after start, fewer (or none) are returned.
	GetBlockRange(ctx context.Context, start, count uint64) ([]domain.Block, error)

	// GetChain returns a string identifying the underlying network. The
	// value never changes during the lifetime of the process.
	GetChain(ctx context.Context) (string, error)

	// GetVersion returns the version of the connected node daemon (or of
	// the connector itself where the node has no meaningful version).
	GetVersion(ctx context.Context) (uint64, error)

	// GetMempool returns the txids of currently tracked pending
	// transactions.
	GetMempool(ctx context.Context) ([]string, error)

	// VerifyMessage checks a signed message. When addr is empty the
	// signing address is recovered and returned; otherwise the result is
	// a boolean comparison against addr.
	VerifyMessage(ctx context.Context, msg, signature, addr string) (domain.Verification, error)

	// EnablePending turns on the pending-move feed. Returns an error if
	// the node does not expose the required notifications.
	EnablePending(ctx context.Context) error

	// Close stops listeners and releases connections.
	Close() error
}
