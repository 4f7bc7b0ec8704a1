// Package core implements the chain adapter for Xaya-Core-style UTXO
// nodes. Moves are name operations embedded in transactions, blocks are
// queried over JSON-RPC 1.0 and push notifications arrive over the node's
// ZMQ publishers.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logger "log/slog"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/infra/chain"
	"github.com/vietddude/gamelink/internal/infra/rpc"
)

// Oldest node version the move extraction is known to work with.
const minNodeVersion = 1_06_00_00

const (
	codeInvalidParameter = -8
)

// CoreAdapter talks to a single Xaya Core node.
type CoreAdapter struct {
	client *rpc.Client
	log    logger.Logger

	mu      sync.Mutex
	cb      chain.Callbacks
	chain   string
	version uint64

	// ZMQ endpoints discovered from the node at Start.
	hashBlockAddr string
	rawTxAddr     string

	pendingWanted bool
	started       bool

	listenCtx context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewCoreAdapter(client *rpc.Client) *CoreAdapter {
	return &CoreAdapter{
		client: client,
		log:    *logger.Default(),
	}
}

func (a *CoreAdapter) SetCallbacks(cb chain.Callbacks) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
}

func (a *CoreAdapter) callbacks() chain.Callbacks {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cb
}

// Start verifies the node version, discovers the node's ZMQ publishers and
// begins listening for tip updates.
func (a *CoreAdapter) Start(ctx context.Context) error {
	version, err := a.GetVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to query node version: %w", err)
	}
	if version < minNodeVersion {
		return fmt.Errorf("node version %d is too old, need at least %d",
			version, minNodeVersion)
	}

	var notifications []struct {
		Type    string `json:"type"`
		Address string `json:"address"`
	}
	if err := a.client.Call(ctx, "getzmqnotifications", nil, &notifications); err != nil {
		return fmt.Errorf("failed to query ZMQ notifications: %w", err)
	}
	for _, n := range notifications {
		switch n.Type {
		case "pubhashblock":
			a.hashBlockAddr = n.Address
		case "pubrawtx":
			a.rawTxAddr = n.Address
		}
	}
	if a.hashBlockAddr == "" {
		return errors.New("node does not publish hashblock notifications over ZMQ")
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	a.listenCtx = listenCtx
	a.cancel = cancel
	a.started = true

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.listenHashBlock(listenCtx, a.hashBlockAddr)
	}()

	if a.pendingWanted {
		if err := a.startPending(listenCtx); err != nil {
			return err
		}
	}
	return nil
}

// EnablePending turns on the mempool feed. It can be called before or
// after Start.
func (a *CoreAdapter) EnablePending(ctx context.Context) error {
	if !a.started {
		a.pendingWanted = true
		return nil
	}
	return a.startPending(a.listenCtx)
}

func (a *CoreAdapter) startPending(listenCtx context.Context) error {
	if a.rawTxAddr == "" {
		return errors.New("node does not publish rawtx notifications over ZMQ")
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.listenRawTx(listenCtx, a.rawTxAddr)
	}()
	return nil
}

func (a *CoreAdapter) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.client.Close()
	return nil
}

type blockchainInfo struct {
	Chain         string `json:"chain"`
	Blocks        int64  `json:"blocks"`
	BestBlockHash string `json:"bestblockhash"`
}

func (a *CoreAdapter) GetTipHeight(ctx context.Context) (uint64, error) {
	var info blockchainInfo
	if err := a.client.Call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return 0, fmt.Errorf("failed to get blockchain info: %w", err)
	}
	if info.Blocks < 0 {
		return 0, errors.New("node has no blocks")
	}
	return uint64(info.Blocks), nil
}

// GetBlockRange resolves the hash at the end of the requested range and
// walks backwards through parent links, so the returned blocks are always
// a consistent chain even while the node is reorging underneath us.
func (a *CoreAdapter) GetBlockRange(
	ctx context.Context,
	start, count uint64,
) ([]domain.Block, error) {
	if count == 0 {
		return nil, nil
	}
	endHeight := start + count - 1

	var endHash string
	for {
		var info blockchainInfo
		if err := a.client.Call(ctx, "getblockchaininfo", nil, &info); err != nil {
			return nil, fmt.Errorf("failed to get blockchain info: %w", err)
		}
		if info.Blocks < 0 || uint64(info.Blocks) < start {
			return nil, nil
		}
		if uint64(info.Blocks) <= endHeight {
			endHash = info.BestBlockHash
			break
		}

		err := a.client.Call(ctx, "getblockhash", []any{endHeight}, &endHash)
		if err == nil {
			break
		}
		// The tip can move below endHeight between the two calls; in
		// that case just resolve again.
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.Code == codeInvalidParameter {
			a.log.Warn("Tip moved while resolving block range, retrying",
				"height", endHeight)
			continue
		}
		return nil, fmt.Errorf("failed to get block hash: %w", err)
	}

	var blocks []domain.Block
	hash := endHash
	for {
		var blk rpcBlock
		if err := a.client.Call(ctx, "getblock", []any{hash, 2}, &blk); err != nil {
			return nil, fmt.Errorf("failed to get block %s: %w", hash, err)
		}
		if blk.Height < start {
			break
		}
		blocks = append(blocks, convertBlock(blk))
		if blk.Height == start {
			break
		}
		hash = blk.PreviousBlockHash
	}

	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks, nil
}

func (a *CoreAdapter) GetChain(ctx context.Context) (string, error) {
	a.mu.Lock()
	cached := a.chain
	a.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var info blockchainInfo
	if err := a.client.Call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return "", fmt.Errorf("failed to get blockchain info: %w", err)
	}

	a.mu.Lock()
	a.chain = info.Chain
	a.mu.Unlock()
	return info.Chain, nil
}

func (a *CoreAdapter) GetVersion(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	cached := a.version
	a.mu.Unlock()
	if cached != 0 {
		return cached, nil
	}

	var info struct {
		Version uint64 `json:"version"`
	}
	if err := a.client.Call(ctx, "getnetworkinfo", nil, &info); err != nil {
		return 0, fmt.Errorf("failed to get network info: %w", err)
	}

	a.mu.Lock()
	a.version = info.Version
	a.mu.Unlock()
	return info.Version, nil
}

func (a *CoreAdapter) GetMempool(ctx context.Context) ([]string, error) {
	var txids []string
	if err := a.client.Call(ctx, "getrawmempool", nil, &txids); err != nil {
		return nil, fmt.Errorf("failed to get mempool: %w", err)
	}
	return txids, nil
}
