package eth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/indexing/metrics"
)

// pendingTracker keeps the mempool transactions we extracted moves from,
// in the order first observed. Only transactions calling a contract on the
// allow-list are considered at all.
type pendingTracker struct {
	watched map[string]struct{}

	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

func newPendingTracker(watchedContracts []string) *pendingTracker {
	watched := make(map[string]struct{}, len(watchedContracts))
	for _, c := range watchedContracts {
		watched[strings.ToLower(c)] = struct{}{}
	}
	return &pendingTracker{
		watched: watched,
		seen:    make(map[string]struct{}),
	}
}

func (t *pendingTracker) isWatched(contract string) bool {
	_, ok := t.watched[strings.ToLower(contract)]
	return ok
}

// observe records a txid; the return value is false if it was already
// tracked.
func (t *pendingTracker) observe(txid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[txid]; ok {
		return false
	}
	t.seen[txid] = struct{}{}
	t.order = append(t.order, txid)
	return true
}

func (t *pendingTracker) txids() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.order...)
}

// retain drops every tracked txid for which keep returns false.
func (t *pendingTracker) retain(keep func(txid string) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.order[:0]
	for _, txid := range t.order {
		if keep(txid) {
			kept = append(kept, txid)
		} else {
			delete(t.seen, txid)
		}
	}
	t.order = kept
}

type rpcPendingTx struct {
	Hash  string `json:"hash"`
	To    string `json:"to"`
	Input string `json:"input"`
}

// pollPending watches the node's pending block for calls to watched
// contracts and sweeps out transactions that got mined or dropped.
func (a *EthAdapter) pollPending(ctx context.Context) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var blk struct {
			Transactions []rpcPendingTx `json:"transactions"`
		}
		err := a.client.Call(ctx, "eth_getBlockByNumber",
			[]any{"pending", true}, &blk)
		if err != nil {
			a.log.Warn("Failed to poll pending transactions", "error", err)
			continue
		}

		for _, tx := range blk.Transactions {
			a.handlePendingTx(tx)
		}
		a.sweepPending(ctx)
	}
}

// handlePendingTx extracts moves from one mempool transaction and forwards
// them. Anything that is not a watched, decodable move call is skipped
// silently; the mempool by nature contains unrelated traffic.
func (a *EthAdapter) handlePendingTx(tx rpcPendingTx) {
	if tx.To == "" || !a.pending.isWatched(tx.To) {
		return
	}
	ev, ok := decodeMoveCalldata(tx.Input)
	if !ok {
		return
	}

	txid := stripHex(tx.Hash)
	if !a.pending.observe(txid) {
		return
	}

	metrics.PendingMovesSeen.Inc()
	if cb := a.callbacks(); cb != nil {
		cb.PendingMoves([]domain.Move{moveFromEvent(txid, ev)})
	}
}

// sweepPending removes tracked entries that were mined or disappeared from
// the mempool.
func (a *EthAdapter) sweepPending(ctx context.Context) {
	tracked := a.pending.txids()
	if len(tracked) == 0 {
		return
	}

	gone := make(map[string]struct{})
	for _, txid := range tracked {
		var tx *struct {
			BlockNumber *string `json:"blockNumber"`
		}
		err := a.client.Call(ctx, "eth_getTransactionByHash",
			[]any{"0x" + txid}, &tx)
		if err != nil {
			// Transient failure; keep the entry for the next sweep.
			continue
		}
		if tx == nil || tx.BlockNumber != nil {
			gone[txid] = struct{}{}
		}
	}

	a.pending.retain(func(txid string) bool {
		_, dropped := gone[txid]
		return !dropped
	})
}
