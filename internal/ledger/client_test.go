package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcHandler func(method string, params json.RawMessage) (any, *rpcError)

func newTestNode(t *testing.T, handle rpcHandler) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			JsonRPC string          `json:"jsonrpc"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
			ID      int             `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "2.0", req.JsonRPC)

		result, rpcErr := handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{Endpoint: srv.URL, RequestTimeout: 5 * time.Second}, zerolog.Nop())
}

func TestClientSubmitAccepted(t *testing.T) {
	payload := []byte("signed-bytes")

	client := newTestNode(t, func(method string, params json.RawMessage) (any, *rpcError) {
		require.Equal(t, "ledger_submit", method)

		var p submitParams
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, base64.StdEncoding.EncodeToString(payload), p.SignedPayload)
		assert.Equal(t, "0xactor", p.Sender)
		assert.Equal(t, uint64(5000), p.GasBudget)

		return submitResult{Handle: "TXABC", Accepted: true}, nil
	})

	handle, err := client.Submit(context.Background(), &MutationRequest{
		Kind:          OpCreateListing,
		Actor:         "0xactor",
		EntityID:      "E1",
		GasBudget:     5000,
		SignedPayload: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, MutationHandle("TXABC"), handle)
}

func TestClientSubmitNotAccepted(t *testing.T) {
	client := newTestNode(t, func(string, json.RawMessage) (any, *rpcError) {
		return submitResult{Accepted: false}, nil
	})

	_, err := client.Submit(context.Background(), &MutationRequest{SignedPayload: []byte{1}})
	require.ErrorIs(t, err, ErrRejected)
}

func TestClientErrorCodeMapping(t *testing.T) {
	tests := []struct {
		code    int
		message string
		want    error
	}{
		{codeRejected, "invalid signature", ErrRejected},
		{codeUserDeclined, "user declined in wallet", ErrUserDeclined},
		{codeNotFound, "unknown digest", ErrNotFound},
		{codeNotYetVisible, "effects not indexed", ErrNotYetVisible},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			client := newTestNode(t, func(string, json.RawMessage) (any, *rpcError) {
				return nil, &rpcError{Code: tt.code, Message: tt.message}
			})

			_, err := client.Submit(context.Background(), &MutationRequest{SignedPayload: []byte{1}})
			require.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestClientUnknownRPCErrorIsOpaque(t *testing.T) {
	client := newTestNode(t, func(string, json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "node overloaded"}
	})

	_, err := client.FetchEffects(context.Background(), "TX")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrNetwork)
	assert.Contains(t, err.Error(), "node overloaded")
}

func TestClientFetchEffects(t *testing.T) {
	client := newTestNode(t, func(method string, params json.RawMessage) (any, *rpcError) {
		require.Equal(t, "ledger_getEffects", method)

		var p effectsParams
		require.NoError(t, json.Unmarshal(params, &p))
		require.Equal(t, MutationHandle("TXDEF"), p.Handle)

		return MutationEffects{
			Handle: "TXDEF",
			Changes: []EntityChange{
				{Change: ChangeCreated, ObjectType: "marketplace::Listing", ObjectID: "L1"},
				{Change: ChangeMutated, ObjectType: "marketplace::Escrow", ObjectID: "ES1"},
			},
			Events: []Event{
				{Type: "marketplace::ListingCreated", Payload: map[string]any{"object_id": "L1"}},
			},
			Gas: GasSummary{ComputationCost: 700, StorageCost: 500, StorageRebate: 200},
		}, nil
	})

	effects, err := client.FetchEffects(context.Background(), "TXDEF")
	require.NoError(t, err)
	assert.Equal(t, MutationHandle("TXDEF"), effects.Handle)
	require.Len(t, effects.Created(), 1)
	assert.Equal(t, "L1", effects.Created()[0].ObjectID)
	assert.Equal(t, uint64(1000), effects.Gas.Total())
}

func TestClientFetchEffectsFillsHandle(t *testing.T) {
	client := newTestNode(t, func(string, json.RawMessage) (any, *rpcError) {
		return MutationEffects{}, nil
	})

	effects, err := client.FetchEffects(context.Background(), "TXGHI")
	require.NoError(t, err)
	assert.Equal(t, MutationHandle("TXGHI"), effects.Handle)
}

func TestClientNetworkErrorsAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{Endpoint: srv.URL}, zerolog.Nop())
	_, err := client.FetchEffects(context.Background(), "TX")
	require.ErrorIs(t, err, ErrNetwork)
	assert.True(t, IsTransient(err))

	// Unreachable endpoint maps to the same transient class.
	down := NewClient(ClientConfig{Endpoint: "http://127.0.0.1:1", RequestTimeout: time.Second}, zerolog.Nop())
	_, err = down.Submit(context.Background(), &MutationRequest{SignedPayload: []byte{1}})
	require.ErrorIs(t, err, ErrNetwork)
}
