// Package eth implements the chain adapter for EVM nodes running the Xaya
// accounts contract. Moves are Move event logs emitted by the contract and
// are queried over JSON-RPC 2.0.
package eth

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	logger "log/slog"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/infra/chain"
	"github.com/vietddude/gamelink/internal/infra/rpc"
)

// Version reported for the connector itself; EVM nodes have no meaningful
// daemon version for our purposes.
const connectorVersion = 1_00_00_00

// Minimum distance of a block range below the tip at which a single
// cross-block log query is trusted not to race a reorg.
const stableLogsDepth = 1024

// Sum of 1e8 base units paid with a move, i.e. one CHI.
const moveDecimals = 1e8

var chainNames = map[uint64]string{
	137:   "polygon",
	80001: "mumbai",
	1337:  "ganache",
}

type EthAdapter struct {
	client *rpc.Client
	log    logger.Logger

	// accountsContract emits Move events; watchedContracts is the pending
	// allow-list (it includes the accounts contract itself when direct
	// calls should be watched).
	accountsContract string
	chainOverride    string

	pollInterval time.Duration

	mu        sync.Mutex
	cb        chain.Callbacks
	chainID   *uint64
	chainName string

	pending *pendingTracker

	listenCtx context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool

	pendingWanted bool
}

func NewEthAdapter(
	client *rpc.Client,
	accountsContract string,
	watchedContracts []string,
	chainOverride string,
) *EthAdapter {
	return &EthAdapter{
		client:           client,
		log:              *logger.Default(),
		accountsContract: accountsContract,
		chainOverride:    chainOverride,
		pollInterval:     2 * time.Second,
		pending:          newPendingTracker(watchedContracts),
	}
}

func (a *EthAdapter) SetCallbacks(cb chain.Callbacks) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
}

func (a *EthAdapter) callbacks() chain.Callbacks {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cb
}

// Start validates the connection and begins polling for tip changes.
func (a *EthAdapter) Start(ctx context.Context) error {
	if _, err := a.GetChain(ctx); err != nil {
		return err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	a.listenCtx = listenCtx
	a.cancel = cancel
	a.started = true

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pollTip(listenCtx)
	}()

	if a.pendingWanted {
		a.startPending(listenCtx)
	}
	return nil
}

func (a *EthAdapter) EnablePending(ctx context.Context) error {
	if !a.started {
		a.pendingWanted = true
		return nil
	}
	a.startPending(a.listenCtx)
	return nil
}

func (a *EthAdapter) startPending(listenCtx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pollPending(listenCtx)
	}()
}

func (a *EthAdapter) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.client.Close()
	return nil
}

// pollTip watches the best block hash and notifies the callbacks whenever
// it changes.
func (a *EthAdapter) pollTip(ctx context.Context) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	var lastTip string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var header rpcHeader
		err := a.client.Call(ctx, "eth_getBlockByNumber",
			[]any{"latest", false}, &header)
		if err != nil {
			a.log.Warn("Failed to poll tip", "error", err)
			continue
		}
		tip := stripHex(header.Hash)
		if tip == "" || tip == lastTip {
			continue
		}
		lastTip = tip
		if cb := a.callbacks(); cb != nil {
			cb.TipChanged(tip)
		}
	}
}

type rpcHeader struct {
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Number     string `json:"number"`
	Timestamp  string `json:"timestamp"`
}

type rpcLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockHash        string   `json:"blockHash"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

func (a *EthAdapter) GetTipHeight(ctx context.Context) (uint64, error) {
	var heightHex string
	if err := a.client.Call(ctx, "eth_blockNumber", nil, &heightHex); err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	return parseHexUint(heightHex)
}

// GetBlockRange fetches headers and Move logs for the requested heights.
// Everything is re-verified for parent-link consistency and simply retried
// when a concurrent reorg produced a mismatch.
func (a *EthAdapter) GetBlockRange(
	ctx context.Context,
	start, count uint64,
) ([]domain.Block, error) {
	if count == 0 {
		return nil, nil
	}

	for {
		blocks, ok, err := a.tryBlockRange(ctx, start, count)
		if err != nil {
			return nil, err
		}
		if ok {
			return blocks, nil
		}
		a.log.Warn("Block range raced a reorg, retrying",
			"start", start, "count", count)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// tryBlockRange performs one attempt; ok is false when the chain moved
// underneath us and the caller should retry.
func (a *EthAdapter) tryBlockRange(
	ctx context.Context,
	start, count uint64,
) ([]domain.Block, bool, error) {
	tipHeight, err := a.GetTipHeight(ctx)
	if err != nil {
		return nil, false, err
	}
	if tipHeight < start {
		return nil, true, nil
	}
	endHeight := start + count - 1
	if endHeight > tipHeight {
		endHeight = tipHeight
	}

	reqs := make([]rpc.BatchRequest, 0, endHeight-start+1)
	for h := start; h <= endHeight; h++ {
		reqs = append(reqs, rpc.BatchRequest{
			Method: "eth_getBlockByNumber",
			Params: []any{hexUint(h), false},
		})
	}
	resps, err := a.client.BatchCall(ctx, reqs)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch headers: %w", err)
	}

	headers := make([]rpcHeader, len(resps))
	for i, resp := range resps {
		if resp.Err != nil {
			return nil, false, resp.Err
		}
		if string(resp.Result) == "null" {
			return nil, false, nil
		}
		if err := json.Unmarshal(resp.Result, &headers[i]); err != nil {
			return nil, false, fmt.Errorf("invalid header response: %w", err)
		}
	}
	for i, h := range headers {
		height, err := parseHexUint(h.Number)
		if err != nil {
			return nil, false, err
		}
		if height != start+uint64(i) {
			return nil, false, nil
		}
		if i > 0 && h.ParentHash != headers[i-1].Hash {
			return nil, false, nil
		}
	}

	logsByBlock, ok, err := a.fetchLogs(ctx, headers, endHeight, tipHeight)
	if err != nil || !ok {
		return nil, ok, err
	}

	blocks := make([]domain.Block, 0, len(headers))
	for _, h := range headers {
		blk, err := a.buildBlock(h, logsByBlock[h.Hash])
		if err != nil {
			return nil, false, err
		}
		blocks = append(blocks, blk)
	}
	return blocks, true, nil
}

// fetchLogs retrieves the Move logs for the given headers. Deep below the
// tip one range query suffices; near the tip logs are fetched per block
// hash so a racing reorg cannot attribute them to the wrong block.
func (a *EthAdapter) fetchLogs(
	ctx context.Context,
	headers []rpcHeader,
	endHeight, tipHeight uint64,
) (map[string][]rpcLog, bool, error) {
	byBlock := make(map[string][]rpcLog, len(headers))

	if endHeight+stableLogsDepth <= tipHeight {
		startHeight, err := parseHexUint(headers[0].Number)
		if err != nil {
			return nil, false, err
		}
		var logs []rpcLog
		err = a.client.Call(ctx, "eth_getLogs", []any{map[string]any{
			"fromBlock": hexUint(startHeight),
			"toBlock":   hexUint(endHeight),
			"address":   a.accountsContract,
			"topics":    []any{moveEventTopic},
		}}, &logs)
		if err != nil {
			return nil, false, fmt.Errorf("eth_getLogs failed: %w", err)
		}

		known := make(map[string]struct{}, len(headers))
		for _, h := range headers {
			known[h.Hash] = struct{}{}
		}
		for _, l := range logs {
			if l.Removed {
				continue
			}
			if _, ok := known[l.BlockHash]; !ok {
				return nil, false, nil
			}
			byBlock[l.BlockHash] = append(byBlock[l.BlockHash], l)
		}
		return byBlock, true, nil
	}

	for _, h := range headers {
		var logs []rpcLog
		err := a.client.Call(ctx, "eth_getLogs", []any{map[string]any{
			"blockHash": h.Hash,
			"address":   a.accountsContract,
			"topics":    []any{moveEventTopic},
		}}, &logs)
		if err != nil {
			return nil, false, fmt.Errorf("eth_getLogs failed: %w", err)
		}
		for _, l := range logs {
			if !l.Removed {
				byBlock[h.Hash] = append(byBlock[h.Hash], l)
			}
		}
	}
	return byBlock, true, nil
}

// buildBlock converts a header plus its Move logs. Log order within the
// block must be strictly increasing by transaction and log index; the
// block hash doubles as the rng seed.
func (a *EthAdapter) buildBlock(h rpcHeader, logs []rpcLog) (domain.Block, error) {
	height, err := parseHexUint(h.Number)
	if err != nil {
		return domain.Block{}, err
	}
	timestamp, err := parseHexUint(h.Timestamp)
	if err != nil {
		return domain.Block{}, err
	}

	blk := domain.Block{
		Hash:    stripHex(h.Hash),
		Parent:  stripHex(h.ParentHash),
		Height:  height,
		RngSeed: stripHex(h.Hash),
		Metadata: map[string]any{
			"timestamp": int64(timestamp),
		},
	}

	lastTx, lastLog := int64(-1), int64(-1)
	for _, l := range logs {
		txIndex, err := parseHexUint(l.TransactionIndex)
		if err != nil {
			return domain.Block{}, err
		}
		logIndex, err := parseHexUint(l.LogIndex)
		if err != nil {
			return domain.Block{}, err
		}
		if int64(txIndex) < lastTx ||
			(int64(txIndex) == lastTx && int64(logIndex) <= lastLog) {
			return domain.Block{}, fmt.Errorf(
				"move logs of block %s are out of order", blk.Hash)
		}
		lastTx, lastLog = int64(txIndex), int64(logIndex)

		ev, err := decodeMoveEvent(l.Data)
		if err != nil {
			return domain.Block{}, fmt.Errorf(
				"undecodable move log in block %s: %w", blk.Hash, err)
		}
		blk.Moves = append(blk.Moves, moveFromEvent(stripHex(l.TransactionHash), ev))
	}
	return blk, nil
}

// moveFromEvent maps a decoded event onto the chain-agnostic move model.
// The move id folds in the nonce so several moves of one name inside a
// single transaction stay distinguishable.
func moveFromEvent(txid string, ev moveEvent) domain.Move {
	out := make(map[string]any)
	if ev.Amount != nil && ev.Amount.Sign() > 0 {
		amount, _ := new(big.Float).Quo(
			new(big.Float).SetInt(ev.Amount),
			big.NewFloat(moveDecimals),
		).Float64()
		out[ev.Receiver] = amount
	}

	return domain.Move{
		Txid:      txid,
		Namespace: ev.Namespace,
		Name:      ev.Name,
		Payload:   ev.Payload,
		Metadata: map[string]any{
			"out":  out,
			"mvid": moveID(txid, ev),
		},
	}
}

func moveID(txid string, ev moveEvent) string {
	data := fmt.Sprintf("%s\n%s/%s\n%d", txid, ev.Namespace, ev.Name, ev.Nonce)
	return fmt.Sprintf("%x", keccak([]byte(data)))
}

// GetChain maps the EVM chain id onto a network name, with a configured
// override taking precedence for chains not in the built-in table.
func (a *EthAdapter) GetChain(ctx context.Context) (string, error) {
	a.mu.Lock()
	cached := a.chainName
	a.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	chainID, err := a.getChainID(ctx)
	if err != nil {
		return "", err
	}

	name := a.chainOverride
	if name == "" {
		var ok bool
		name, ok = chainNames[chainID]
		if !ok {
			return "", fmt.Errorf("unknown chain id %d and no network name configured", chainID)
		}
	}

	a.mu.Lock()
	a.chainName = name
	a.mu.Unlock()
	return name, nil
}

func (a *EthAdapter) getChainID(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	cached := a.chainID
	a.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	var idHex string
	if err := a.client.Call(ctx, "eth_chainId", nil, &idHex); err != nil {
		return 0, fmt.Errorf("eth_chainId failed: %w", err)
	}
	id, err := parseHexUint(idHex)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.chainID = &id
	a.mu.Unlock()
	return id, nil
}

func (a *EthAdapter) GetVersion(ctx context.Context) (uint64, error) {
	return connectorVersion, nil
}

func (a *EthAdapter) GetMempool(ctx context.Context) ([]string, error) {
	return a.pending.txids(), nil
}

func stripHex(s string) string {
	return strings.TrimPrefix(s, "0x")
}

func hexUint(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

func parseHexUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(stripHex(s), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex number %q: %w", s, err)
	}
	return v, nil
}
