package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/gamelink/internal/infra/rpc"
)

// fakeNode serves a canned main chain over JSON-RPC 1.0.
type fakeNode struct {
	t *testing.T

	chain     string
	tipHeight int64
	byHeight  map[uint64]rpcBlock
	byHash    map[string]rpcBlock

	// hashErrors makes the next n getblockhash calls fail with -8.
	hashErrors int
	calls      map[string]int
}

func newFakeNode(t *testing.T) *fakeNode {
	return &fakeNode{
		t:         t,
		chain:     "main",
		tipHeight: -1,
		byHeight:  make(map[uint64]rpcBlock),
		byHash:    make(map[string]rpcBlock),
		calls:     make(map[string]int),
	}
}

func (n *fakeNode) addChain(startHeight uint64, parent string, count int) {
	for i := 0; i < count; i++ {
		h := startHeight + uint64(i)
		blk := rpcBlock{
			Hash:              fmt.Sprintf("blk%d", h),
			PreviousBlockHash: parent,
			Height:            h,
		}
		n.byHeight[h] = blk
		n.byHash[blk.Hash] = blk
		n.tipHeight = int64(h)
		parent = blk.Hash
	}
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
		Params []any  `json:"params"`
		ID     any    `json:"id"`
	}
	require.NoError(n.t, json.NewDecoder(r.Body).Decode(&req))
	n.calls[req.Method]++

	reply := func(result any) {
		resp := map[string]any{"result": result, "error": nil, "id": req.ID}
		require.NoError(n.t, json.NewEncoder(w).Encode(resp))
	}
	replyErr := func(code int, msg string) {
		resp := map[string]any{
			"result": nil,
			"error":  map[string]any{"code": code, "message": msg},
			"id":     req.ID,
		}
		require.NoError(n.t, json.NewEncoder(w).Encode(resp))
	}

	switch req.Method {
	case "getblockchaininfo":
		best := ""
		if n.tipHeight >= 0 {
			best = n.byHeight[uint64(n.tipHeight)].Hash
		}
		reply(map[string]any{
			"chain":         n.chain,
			"blocks":        n.tipHeight,
			"bestblockhash": best,
		})
	case "getnetworkinfo":
		reply(map[string]any{"version": 1070000})
	case "getblockhash":
		if n.hashErrors > 0 {
			n.hashErrors--
			replyErr(-8, "Block height out of range")
			return
		}
		height := uint64(req.Params[0].(float64))
		blk, ok := n.byHeight[height]
		if !ok {
			replyErr(-8, "Block height out of range")
			return
		}
		reply(blk.Hash)
	case "getblock":
		blk, ok := n.byHash[req.Params[0].(string)]
		if !ok {
			replyErr(-5, "Block not found")
			return
		}
		reply(blk)
	case "getrawmempool":
		reply([]string{"tx1", "tx2"})
	default:
		replyErr(-32601, "Method not found")
	}
}

func newTestAdapter(t *testing.T, node *fakeNode) *CoreAdapter {
	srv := httptest.NewServer(http.HandlerFunc(node.handle))
	t.Cleanup(srv.Close)
	client := rpc.NewClient("test", srv.URL, rpc.V1, 5*time.Second)
	return NewCoreAdapter(client)
}

func TestGetTipHeight(t *testing.T) {
	node := newFakeNode(t)
	node.addChain(0, "", 11)
	a := newTestAdapter(t, node)

	height, err := a.GetTipHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), height)
}

func TestGetBlockRangeMiddle(t *testing.T) {
	node := newFakeNode(t)
	node.addChain(0, "", 11)
	a := newTestAdapter(t, node)

	blocks, err := a.GetBlockRange(context.Background(), 6, 3)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(6), blocks[0].Height)
	assert.Equal(t, uint64(8), blocks[2].Height)
	assert.Equal(t, blocks[0].Hash, blocks[1].Parent)
}

func TestGetBlockRangePastTip(t *testing.T) {
	node := newFakeNode(t)
	node.addChain(0, "", 11)
	a := newTestAdapter(t, node)

	blocks, err := a.GetBlockRange(context.Background(), 8, 100)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(10), blocks[2].Height)

	blocks, err = a.GetBlockRange(context.Background(), 11, 5)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestGetBlockRangeRetriesOnRace(t *testing.T) {
	node := newFakeNode(t)
	node.addChain(0, "", 11)
	node.hashErrors = 1
	a := newTestAdapter(t, node)

	blocks, err := a.GetBlockRange(context.Background(), 2, 3)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.GreaterOrEqual(t, node.calls["getblockchaininfo"], 2)
}

func TestGetChainCached(t *testing.T) {
	node := newFakeNode(t)
	node.addChain(0, "", 1)
	a := newTestAdapter(t, node)

	for i := 0; i < 3; i++ {
		chainName, err := a.GetChain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "main", chainName)
	}
	assert.Equal(t, 1, node.calls["getblockchaininfo"])
}

func TestGetVersionAndMempool(t *testing.T) {
	node := newFakeNode(t)
	a := newTestAdapter(t, node)

	version, err := a.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1070000), version)

	txids, err := a.GetMempool(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tx1", "tx2"}, txids)
}
