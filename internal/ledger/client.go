package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Gateway is the capability the rest of the system consumes: submit a signed
// mutation, query its recorded effects. Implementations must keep FetchEffects
// idempotent so it can be called repeatedly while waiting for visibility.
type Gateway interface {
	Submit(ctx context.Context, req *MutationRequest) (MutationHandle, error)
	FetchEffects(ctx context.Context, handle MutationHandle) (*MutationEffects, error)
}

// JSON-RPC error codes returned by the ledger node.
const (
	codeRejected      = -32001
	codeUserDeclined  = -32002
	codeNotFound      = -32004
	codeNotYetVisible = -32005
)

// ClientConfig configures the JSON-RPC ledger client.
type ClientConfig struct {
	// Endpoint is the ledger node JSON-RPC URL.
	Endpoint string

	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration
}

// Client is a Gateway over a ledger node's JSON-RPC endpoint.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a ledger client for the configured endpoint.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

type rpcRequest struct {
	JsonRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type submitParams struct {
	SignedPayload string `json:"signed_payload"`
	Sender        string `json:"sender"`
	GasBudget     uint64 `json:"gas_budget,omitempty"`
}

type submitResult struct {
	Handle   MutationHandle `json:"handle"`
	Accepted bool           `json:"accepted"`
}

// Submit sends the signed mutation to the ledger node and returns once the
// node has accepted it into its pending state. Acceptance does not imply
// finality; effects become visible later.
func (c *Client) Submit(ctx context.Context, req *MutationRequest) (MutationHandle, error) {
	params := submitParams{
		SignedPayload: base64.StdEncoding.EncodeToString(req.SignedPayload),
		Sender:        req.Actor,
		GasBudget:     req.GasBudget,
	}

	var result submitResult
	if err := c.call(ctx, "ledger_submit", params, &result); err != nil {
		return "", err
	}
	if !result.Accepted || result.Handle == "" {
		return "", fmt.Errorf("%w: node did not accept the mutation", ErrRejected)
	}

	c.logger.Debug().
		Str("handle", string(result.Handle)).
		Str("kind", string(req.Kind)).
		Str("entity", req.EntityID).
		Msg("mutation accepted")

	return result.Handle, nil
}

type effectsParams struct {
	Handle MutationHandle `json:"handle"`
}

// FetchEffects queries the recorded effects of an accepted mutation.
// ErrNotYetVisible is returned while the node has accepted the mutation but
// has not yet indexed its effects.
func (c *Client) FetchEffects(ctx context.Context, handle MutationHandle) (*MutationEffects, error) {
	var effects MutationEffects
	if err := c.call(ctx, "ledger_getEffects", effectsParams{Handle: handle}, &effects); err != nil {
		return nil, err
	}
	if effects.Handle == "" {
		effects.Handle = handle
	}
	return &effects, nil
}

// call performs one JSON-RPC round trip and maps node errors onto the gateway
// error taxonomy.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JsonRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrNetwork, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrNetwork, err)
	}

	if rpcResp.Error != nil {
		return mapRPCError(method, rpcResp.Error)
	}

	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

func mapRPCError(method string, e *rpcError) error {
	switch e.Code {
	case codeRejected:
		return fmt.Errorf("%w: %s", ErrRejected, e.Message)
	case codeUserDeclined:
		return fmt.Errorf("%w: %s", ErrUserDeclined, e.Message)
	case codeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, e.Message)
	case codeNotYetVisible:
		return fmt.Errorf("%w: %s", ErrNotYetVisible, e.Message)
	default:
		return fmt.Errorf("%s failed: rpc error %d: %s", method, e.Code, e.Message)
	}
}
