package eth

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/gamelink/internal/infra/rpc"
)

const testContract = "0x00000000000000000000000000000000000000cc"

// fakeEVMNode serves a canned chain over JSON-RPC 2.0, including batches.
type fakeEVMNode struct {
	t *testing.T

	chainID   uint64
	tipHeight uint64
	headers   map[uint64]rpcHeader
	logs      map[string][]rpcLog
}

func newFakeEVMNode(t *testing.T, chainID uint64, height uint64) *fakeEVMNode {
	n := &fakeEVMNode{
		t:       t,
		chainID: chainID,
		headers: make(map[uint64]rpcHeader),
		logs:    make(map[string][]rpcLog),
	}
	parent := "0x" + fmt.Sprintf("%064d", 0)
	for h := uint64(0); h <= height; h++ {
		hash := fmt.Sprintf("0x%064x", h+1000)
		n.headers[h] = rpcHeader{
			Hash:       hash,
			ParentHash: parent,
			Number:     hexUint(h),
			Timestamp:  hexUint(1700000000 + h),
		}
		parent = hash
	}
	n.tipHeight = height
	return n
}

func (n *fakeEVMNode) addMoveLog(height uint64, txIndex, logIndex uint64, data string) {
	hash := n.headers[height].Hash
	n.logs[hash] = append(n.logs[hash], rpcLog{
		Address:          testContract,
		Topics:           []string{moveEventTopic},
		Data:             data,
		BlockHash:        hash,
		TransactionHash:  fmt.Sprintf("0x%064x", txIndex+5000),
		TransactionIndex: hexUint(txIndex),
		LogIndex:         hexUint(logIndex),
	})
}

func (n *fakeEVMNode) call(method string, params []any) any {
	switch method {
	case "eth_chainId":
		return hexUint(n.chainID)
	case "eth_blockNumber":
		return hexUint(n.tipHeight)
	case "eth_getBlockByNumber":
		height, err := parseHexUint(params[0].(string))
		if err != nil {
			return nil
		}
		header, ok := n.headers[height]
		if !ok || height > n.tipHeight {
			return nil
		}
		return header
	case "eth_getLogs":
		q := params[0].(map[string]any)
		if blockHash, ok := q["blockHash"].(string); ok {
			return n.logs[blockHash]
		}
		from, _ := parseHexUint(q["fromBlock"].(string))
		to, _ := parseHexUint(q["toBlock"].(string))
		var out []rpcLog
		for h := from; h <= to && h <= n.tipHeight; h++ {
			out = append(out, n.logs[n.headers[h].Hash]...)
		}
		if out == nil {
			out = []rpcLog{}
		}
		return out
	default:
		n.t.Fatalf("unexpected method %s", method)
		return nil
	}
}

func (n *fakeEVMNode) handle(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	require.NoError(n.t, json.NewDecoder(r.Body).Decode(&raw))

	type rpcReq struct {
		Method string `json:"method"`
		Params []any  `json:"params"`
		ID     any    `json:"id"`
	}
	respond := func(req rpcReq) map[string]any {
		return map[string]any{
			"jsonrpc": "2.0",
			"result":  n.call(req.Method, req.Params),
			"id":      req.ID,
		}
	}

	if len(raw) > 0 && raw[0] == '[' {
		var reqs []rpcReq
		require.NoError(n.t, json.Unmarshal(raw, &reqs))
		resps := make([]map[string]any, len(reqs))
		for i, req := range reqs {
			resps[i] = respond(req)
		}
		require.NoError(n.t, json.NewEncoder(w).Encode(resps))
		return
	}

	var req rpcReq
	require.NoError(n.t, json.Unmarshal(raw, &req))
	require.NoError(n.t, json.NewEncoder(w).Encode(respond(req)))
}

func newTestEthAdapter(t *testing.T, node *fakeEVMNode, override string) *EthAdapter {
	srv := httptest.NewServer(http.HandlerFunc(node.handle))
	t.Cleanup(srv.Close)
	client := rpc.NewClient("test", srv.URL, rpc.V2, 5*time.Second)
	return NewEthAdapter(client, testContract, []string{testContract}, override)
}

func TestEthGetTipHeight(t *testing.T) {
	node := newFakeEVMNode(t, 1337, 50)
	a := newTestEthAdapter(t, node, "")

	height, err := a.GetTipHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), height)
}

func TestEthGetBlockRange(t *testing.T) {
	node := newFakeEVMNode(t, 1337, 2000)
	data := encodeMoveEventData("p", "alice", `{"g": {"chess": "e4"}}`, 1,
		"0x0000000000000000000000000000000000000001",
		big.NewInt(0),
		"0x0000000000000000000000000000000000000002",
	)
	node.addMoveLog(11, 0, 0, data)
	a := newTestEthAdapter(t, node, "")

	blocks, err := a.GetBlockRange(context.Background(), 10, 3)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	assert.Equal(t, uint64(10), blocks[0].Height)
	assert.Equal(t, blocks[0].Hash, blocks[1].Parent)
	assert.Equal(t, blocks[1].Hash, blocks[1].RngSeed)
	assert.NotContains(t, blocks[0].Hash, "0x")

	require.Len(t, blocks[1].Moves, 1)
	assert.Equal(t, "alice", blocks[1].Moves[0].Name)
	assert.Empty(t, blocks[0].Moves)
}

func TestEthGetBlockRangeNearTip(t *testing.T) {
	// Close enough to the tip that logs are fetched per block hash.
	node := newFakeEVMNode(t, 1337, 12)
	data := encodeMoveEventData("p", "bob", "{}", 1,
		"0x0000000000000000000000000000000000000001",
		big.NewInt(0),
		"0x0000000000000000000000000000000000000002",
	)
	node.addMoveLog(12, 0, 0, data)
	a := newTestEthAdapter(t, node, "")

	blocks, err := a.GetBlockRange(context.Background(), 10, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	require.Len(t, blocks[2].Moves, 1)
	assert.Equal(t, "bob", blocks[2].Moves[0].Name)
}

func TestEthGetBlockRangeBeyondTip(t *testing.T) {
	node := newFakeEVMNode(t, 1337, 5)
	a := newTestEthAdapter(t, node, "")

	blocks, err := a.GetBlockRange(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestEthGetChain(t *testing.T) {
	node := newFakeEVMNode(t, 1337, 0)
	a := newTestEthAdapter(t, node, "")

	name, err := a.GetChain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ganache", name)
}

func TestEthGetChainUnknown(t *testing.T) {
	node := newFakeEVMNode(t, 999999, 0)

	a := newTestEthAdapter(t, node, "")
	_, err := a.GetChain(context.Background())
	assert.Error(t, err)

	a = newTestEthAdapter(t, node, "devnet")
	name, err := a.GetChain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "devnet", name)
}

func TestEthGetVersion(t *testing.T) {
	node := newFakeEVMNode(t, 1337, 0)
	a := newTestEthAdapter(t, node, "")

	version, err := a.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_00_00_00), version)
}
