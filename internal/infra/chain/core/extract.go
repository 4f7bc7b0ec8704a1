package core

import (
	"encoding/hex"
	"strings"

	"github.com/vietddude/gamelink/internal/core/domain"
)

// Wire types for getblock verbosity 2 and decoderawtransaction. Only the
// fields the extraction needs are decoded.

type rpcBlock struct {
	Hash              string  `json:"hash"`
	PreviousBlockHash string  `json:"previousblockhash"`
	Height            uint64  `json:"height"`
	RngSeed           string  `json:"rngseed"`
	Time              int64   `json:"time"`
	MedianTime        int64   `json:"mediantime"`
	Tx                []rpcTx `json:"tx"`
}

type rpcTx struct {
	Txid  string    `json:"txid"`
	Btxid string    `json:"btxid"`
	Vin   []rpcVin  `json:"vin"`
	Vout  []rpcVout `json:"vout"`
}

type rpcVin struct {
	Txid string  `json:"txid"`
	Vout *uint32 `json:"vout"`
}

type rpcVout struct {
	Value        float64   `json:"value"`
	ScriptPubKey rpcScript `json:"scriptPubKey"`
}

type rpcScript struct {
	Address   string     `json:"address"`
	Addresses []string   `json:"addresses"`
	NameOp    *rpcNameOp `json:"nameOp"`
	Burn      string     `json:"burn"`
}

type rpcNameOp struct {
	Op    string `json:"op"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// convertBlock turns a node block into the chain-agnostic model. Only
// transactions carrying a name operation become moves.
func convertBlock(blk rpcBlock) domain.Block {
	res := domain.Block{
		Hash:    blk.Hash,
		Parent:  blk.PreviousBlockHash,
		Height:  blk.Height,
		RngSeed: blk.RngSeed,
		Metadata: map[string]any{
			"timestamp":  blk.Time,
			"mediantime": blk.MedianTime,
		},
	}
	for _, tx := range blk.Tx {
		if mv, ok := extractMove(tx); ok {
			res.Moves = append(res.Moves, mv)
		}
	}
	return res
}

// extractMove looks for a name operation in the transaction outputs and
// builds the move from it. Transactions without a name update (ordinary
// currency transfers) are not moves.
func extractMove(tx rpcTx) (domain.Move, bool) {
	nameVout := -1
	var nameOp *rpcNameOp
	for i, out := range tx.Vout {
		op := out.ScriptPubKey.NameOp
		if op == nil {
			continue
		}
		if op.Op != "name_register" && op.Op != "name_update" {
			continue
		}
		nameVout = i
		nameOp = op
		break
	}
	if nameOp == nil {
		return domain.Move{}, false
	}

	slash := strings.Index(nameOp.Name, "/")
	if slash == -1 {
		return domain.Move{}, false
	}

	out := make(map[string]any)
	burns := make(map[string]float64)
	for i, vout := range tx.Vout {
		// The name output itself does not count towards the recipients.
		if i == nameVout {
			continue
		}
		spk := vout.ScriptPubKey
		if spk.Burn != "" {
			data, err := hex.DecodeString(spk.Burn)
			if err == nil {
				if game, ok := strings.CutPrefix(string(data), "g/"); ok {
					burns[game] += vout.Value
				}
			}
			continue
		}
		addr := spk.Address
		if addr == "" && len(spk.Addresses) == 1 {
			addr = spk.Addresses[0]
		}
		if addr == "" {
			continue
		}
		if prev, ok := out[addr].(float64); ok {
			out[addr] = prev + vout.Value
		} else {
			out[addr] = vout.Value
		}
	}

	inputs := make([]any, 0, len(tx.Vin))
	for _, in := range tx.Vin {
		// Coinbase inputs carry no txid.
		if in.Txid == "" || in.Vout == nil {
			continue
		}
		inputs = append(inputs, map[string]any{
			"txid": in.Txid,
			"vout": *in.Vout,
		})
	}

	return domain.Move{
		Txid:      tx.Txid,
		Namespace: nameOp.Name[:slash],
		Name:      nameOp.Name[slash+1:],
		Payload:   nameOp.Value,
		Burns:     burns,
		Metadata: map[string]any{
			"btxid":  tx.Btxid,
			"out":    out,
			"inputs": inputs,
		},
	}, true
}
