package zmqpub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vietddude/gamelink/internal/core/domain"
)

// perTxData is the result of analysing a single raw move: the per-game
// move objects and, if present, the admin command. Both are already the
// full JSON objects pushed over ZMQ, including txid and metadata.
type perTxData struct {
	movesPerGame map[string]map[string]any

	isAdmin   bool
	adminGame string
	adminCmd  map[string]any
}

// analyseMove classifies a raw move into per-game moves and admin
// commands. Unparseable or out-of-scope moves yield an empty result, never
// an error; the chain by nature contains unrelated traffic.
func analyseMove(mv domain.Move) perTxData {
	res := perTxData{movesPerGame: make(map[string]map[string]any)}

	value, ok := parseMoveJSON(mv.Payload)
	if !ok {
		return res
	}

	// Base template shared by all objects derived from this transaction.
	txTemplate := make(map[string]any, len(mv.Metadata)+2)
	for k, v := range mv.Metadata {
		txTemplate[k] = v
	}
	txTemplate["txid"] = mv.Txid

	if mv.Namespace == "g" {
		cmd, hasCmd := value["cmd"]
		if !hasCmd {
			return res
		}
		res.isAdmin = true
		res.adminGame = mv.Name
		res.adminCmd = cloneWith(txTemplate, "cmd", cmd)
		res.adminCmd["burnt"] = burnFor(mv, mv.Name)
		return res
	}

	// Only player moves beyond this point; reserved namespaces are skipped.
	if mv.Namespace != "p" {
		return res
	}
	g, ok := value["g"].(map[string]any)
	if !ok {
		return res
	}

	txTemplate["name"] = mv.Name
	for gameID, moveVal := range g {
		thisGame := cloneWith(txTemplate, "move", moveVal)
		thisGame["burnt"] = burnFor(mv, gameID)
		res.movesPerGame[gameID] = thisGame
	}

	return res
}

func cloneWith(template map[string]any, key string, val any) map[string]any {
	clone := make(map[string]any, len(template)+2)
	for k, v := range template {
		clone[k] = v
	}
	clone[key] = val
	return clone
}

func burnFor(mv domain.Move, gameID string) float64 {
	return mv.Burns[gameID]
}

// parseMoveJSON parses user-provided move data strictly: the value must be
// a single JSON object without duplicate keys anywhere. Moves are the main
// untrusted input of the daemon, so anything questionable is rejected.
func parseMoveJSON(s string) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var value map[string]any
	if err := dec.Decode(&value); err != nil {
		slog.Warn("Move data is invalid JSON", "data", s)
		return nil, false
	}
	// Reject trailing data after the object.
	if dec.More() {
		slog.Warn("Move data has trailing garbage", "data", s)
		return nil, false
	}

	if err := checkNoDuplicateKeys(json.NewDecoder(bytes.NewReader([]byte(s)))); err != nil {
		slog.Warn("Move data rejected", "error", err, "data", s)
		return nil, false
	}

	return value, true
}

// checkNoDuplicateKeys walks the token stream and fails on objects that
// repeat a key. encoding/json silently keeps the last value, which would
// let two GSPs disagree on what a move said.
func checkNoDuplicateKeys(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			seen := make(map[string]struct{})
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return err
				}
				key, ok := keyTok.(string)
				if !ok {
					return fmt.Errorf("unexpected object key token %v", keyTok)
				}
				if _, dup := seen[key]; dup {
					return fmt.Errorf("duplicate key %q", key)
				}
				seen[key] = struct{}{}
				if err := checkNoDuplicateKeys(dec); err != nil {
					return err
				}
			}
			_, err = dec.Token() // closing brace
			return err
		case '[':
			for dec.More() {
				if err := checkNoDuplicateKeys(dec); err != nil {
					return err
				}
			}
			_, err = dec.Token() // closing bracket
			return err
		}
	}
	return nil
}
