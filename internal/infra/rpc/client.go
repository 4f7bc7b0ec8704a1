// Package rpc provides the JSON-RPC client used to talk to the base-chain
// node. It supports both the JSON-RPC 1.0 convention of Bitcoin-style nodes
// and the 2.0 convention of EVM nodes, including batch requests.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/gamelink/internal/indexing/metrics"
)

// Version selects the JSON-RPC dialect spoken by the node.
type Version string

const (
	V1 Version = "1.0"
	V2 Version = "2.0"
)

// Error is a JSON-RPC error returned by the node, with the numeric code
// preserved so callers can react to specific codes (e.g. -8 for a height
// that does not exist).
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// BatchRequest is a single call within a batch.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse is the result of one call within a batch. Exactly one of
// Result and Err is set.
type BatchResponse struct {
	Result json.RawMessage
	Err    error
}

// Client is an HTTP JSON-RPC client bound to a single endpoint.
type Client struct {
	name       string
	endpoint   string
	version    Version
	httpClient *http.Client
}

// NewClient creates a client for the given endpoint. The name labels
// metrics and log lines.
func NewClient(name, endpoint string, version Version, timeout time.Duration) *Client {
	return &Client{
		name:     name,
		endpoint: endpoint,
		version:  version,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
	ID     json.Number     `json:"id"`
}

// Call makes a single JSON-RPC call and unmarshals the result into out
// (skipped when out is nil).
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	start := time.Now()
	metrics.RPCCallsTotal.WithLabelValues(c.name, method).Inc()

	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": string(c.version),
		"method":  method,
		"params":  params,
		"id":      1,
	}

	body, err := c.post(ctx, reqBody)
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(c.name, method).Inc()
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(c.name, method).Inc()
		return fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != nil {
		metrics.RPCErrorsTotal.WithLabelValues(c.name, method).Inc()
		return resp.Error
	}

	metrics.RPCLatency.WithLabelValues(c.name, method).Observe(time.Since(start).Seconds())

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	return nil
}

// BatchCall makes multiple RPC calls in one HTTP request. Responses are
// returned in request order regardless of the order the node answered in.
func (c *Client) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	batchReq := make([]map[string]any, len(requests))
	for i, req := range requests {
		params := req.Params
		if params == nil {
			params = []any{}
		}
		batchReq[i] = map[string]any{
			"jsonrpc": string(c.version),
			"method":  req.Method,
			"params":  params,
			"id":      i + 1,
		}
		metrics.RPCCallsTotal.WithLabelValues(c.name, req.Method).Inc()
	}

	body, err := c.post(ctx, batchReq)
	if err != nil {
		return nil, err
	}

	var batchResp []rpcResponse
	if err := json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("parse batch response: %w", err)
	}

	responses := make([]BatchResponse, len(requests))
	for _, r := range batchResp {
		id, err := r.ID.Int64()
		if err != nil || id < 1 || int(id) > len(requests) {
			return nil, fmt.Errorf("batch response with unknown id %q", r.ID)
		}
		if r.Error != nil {
			responses[id-1] = BatchResponse{Err: r.Error}
		} else {
			responses[id-1] = BatchResponse{Result: r.Result}
		}
	}
	return responses, nil
}

func (c *Client) post(ctx context.Context, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Bitcoin-style nodes answer RPC-level errors with a non-200 status
	// but still carry the JSON error object in the body.
	if resp.StatusCode != http.StatusOK && !looksLikeJSON(body) {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func looksLikeJSON(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
