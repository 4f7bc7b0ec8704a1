// Package rpcserver exposes the connector's query surface as a
// Bitcoin-style JSON-RPC 1.0 endpoint over HTTP.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	logger "log/slog"

	"github.com/vietddude/gamelink/internal/control"
	"github.com/vietddude/gamelink/internal/core/domain"
)

// RPC error codes, following the bitcoind conventions consumers already
// handle.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603

	codeBlockNotFound = -5
	codeBlockPruned   = -8
)

// Backend is the application surface the server dispatches into;
// implemented by the controller.
type Backend interface {
	GetBlockchainInfo(ctx context.Context) (control.BlockchainInfo, error)
	GetBlockHash(ctx context.Context, height uint64) (string, error)
	GetBlockHeader(ctx context.Context, hash string) (control.BlockHeader, error)
	GameSendUpdates(ctx context.Context, from, toBlock string) (control.Updates, error)
	VerifyMessage(ctx context.Context, msg, signature, addr string) (domain.Verification, error)
	GetMempool(ctx context.Context) ([]string, error)
	GetVersion(ctx context.Context) (uint64, error)
	TrackGame(gameID string)
	UntrackGame(gameID string)
	TrackedGames() []string
	ZMQAddress() string
	Stop()
}

// Server is the JSON-RPC HTTP server.
type Server struct {
	backend Backend
	server  *http.Server
	log     logger.Logger
}

// NewServer creates a server listening on the given port.
func NewServer(backend Backend, port int) *Server {
	s := &Server{
		backend: backend,
		log:     *logger.Default(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("JSON-RPC server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type request struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Result any             `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     json.RawMessage `json:"id"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, response{
			Error: &rpcError{Code: codeInvalidRequest, Message: "invalid JSON-RPC request"},
		})
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)
	resp := response{Result: result, Error: rpcErr, ID: req.ID}
	if rpcErr != nil {
		resp.Result = nil
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, req *request) (any, *rpcError) {
	switch req.Method {
	case "getblockchaininfo":
		return s.getBlockchainInfo(ctx)
	case "getnetworkinfo":
		return s.getNetworkInfo(ctx)
	case "getblockhash":
		return s.getBlockHash(ctx, req.Params)
	case "getblockheader":
		return s.getBlockHeader(ctx, req.Params)
	case "game_sendupdates":
		return s.gameSendUpdates(ctx, req.Params)
	case "verifymessage":
		return s.verifyMessage(ctx, req.Params)
	case "getrawmempool":
		return s.getRawMempool(ctx)
	case "getzmqnotifications":
		return s.getZMQNotifications()
	case "trackedgames":
		return s.trackedGames(req.Params)
	case "stop":
		s.backend.Stop()
		return "gamelink stopping", nil
	default:
		return nil, &rpcError{
			Code:    codeMethodNotFound,
			Message: fmt.Sprintf("method %q not found", req.Method),
		}
	}
}

func blockError(err error) *rpcError {
	switch {
	case errors.Is(err, domain.ErrBlockPruned):
		return &rpcError{Code: codeBlockPruned, Message: "block is pruned"}
	case errors.Is(err, domain.ErrBlockNotFound):
		return &rpcError{Code: codeBlockNotFound, Message: "block not found"}
	default:
		return &rpcError{Code: codeInternalError, Message: err.Error()}
	}
}

func decodeParam[T any](params []json.RawMessage, i int, out *T) *rpcError {
	if i >= len(params) {
		return &rpcError{
			Code:    codeInvalidParams,
			Message: fmt.Sprintf("missing parameter %d", i),
		}
	}
	if err := json.Unmarshal(params[i], out); err != nil {
		return &rpcError{
			Code:    codeInvalidParams,
			Message: fmt.Sprintf("invalid parameter %d: %v", i, err),
		}
	}
	return nil
}

func (s *Server) getBlockchainInfo(ctx context.Context) (any, *rpcError) {
	info, err := s.backend.GetBlockchainInfo(ctx)
	if err != nil {
		return nil, blockError(err)
	}
	return info, nil
}

func (s *Server) getNetworkInfo(ctx context.Context) (any, *rpcError) {
	version, err := s.backend.GetVersion(ctx)
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
	}
	return map[string]uint64{"version": version}, nil
}

func (s *Server) getBlockHash(ctx context.Context, params []json.RawMessage) (any, *rpcError) {
	var height uint64
	if perr := decodeParam(params, 0, &height); perr != nil {
		return nil, perr
	}
	hash, err := s.backend.GetBlockHash(ctx, height)
	if err != nil {
		return nil, blockError(err)
	}
	return hash, nil
}

func (s *Server) getBlockHeader(ctx context.Context, params []json.RawMessage) (any, *rpcError) {
	var hash string
	if perr := decodeParam(params, 0, &hash); perr != nil {
		return nil, perr
	}
	header, err := s.backend.GetBlockHeader(ctx, hash)
	if err != nil {
		return nil, blockError(err)
	}
	return header, nil
}

func (s *Server) gameSendUpdates(ctx context.Context, params []json.RawMessage) (any, *rpcError) {
	var gameID, fromBlock string
	if perr := decodeParam(params, 0, &gameID); perr != nil {
		return nil, perr
	}
	if perr := decodeParam(params, 1, &fromBlock); perr != nil {
		return nil, perr
	}
	var toBlock string
	if len(params) > 2 {
		if perr := decodeParam(params, 2, &toBlock); perr != nil {
			return nil, perr
		}
	}

	updates, err := s.backend.GameSendUpdates(ctx, fromBlock, toBlock)
	if err != nil {
		return nil, blockError(err)
	}
	return map[string]any{
		"steps": map[string]int{
			"detach": updates.Detach,
			"attach": updates.Attach,
		},
		"toblock":  updates.ToBlock,
		"reqtoken": updates.Reqtoken,
	}, nil
}

func (s *Server) verifyMessage(ctx context.Context, params []json.RawMessage) (any, *rpcError) {
	var addr, msg, signature string
	if perr := decodeParam(params, 0, &addr); perr != nil {
		return nil, perr
	}
	if perr := decodeParam(params, 1, &msg); perr != nil {
		return nil, perr
	}
	if perr := decodeParam(params, 2, &signature); perr != nil {
		return nil, perr
	}

	verification, err := s.backend.VerifyMessage(ctx, msg, signature, addr)
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	// With an explicit address the result is a plain boolean; recovery
	// mode reports the recovered address as well.
	if addr != "" {
		return verification.Valid, nil
	}
	return verification, nil
}

func (s *Server) getRawMempool(ctx context.Context) (any, *rpcError) {
	txids, err := s.backend.GetMempool(ctx)
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
	}
	if txids == nil {
		txids = []string{}
	}
	return txids, nil
}

func (s *Server) getZMQNotifications() (any, *rpcError) {
	return []map[string]string{
		{"type": "pubgameblocks", "address": s.backend.ZMQAddress()},
	}, nil
}

func (s *Server) trackedGames(params []json.RawMessage) (any, *rpcError) {
	if len(params) == 0 {
		return s.backend.TrackedGames(), nil
	}

	var command string
	if perr := decodeParam(params, 0, &command); perr != nil {
		return nil, perr
	}
	var gameID string
	if command == "add" || command == "remove" {
		if perr := decodeParam(params, 1, &gameID); perr != nil {
			return nil, perr
		}
	}

	switch command {
	case "add":
		s.backend.TrackGame(gameID)
	case "remove":
		s.backend.UntrackGame(gameID)
	case "list":
	default:
		return nil, &rpcError{
			Code:    codeInvalidParams,
			Message: fmt.Sprintf("invalid trackedgames command %q", command),
		}
	}
	return s.backend.TrackedGames(), nil
}
