// Package server exposes the daemon's JSON-RPC surface and the WebSocket
// event stream.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/journal"
	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/LeJamon/goMarketd/internal/saga"
)

// Starter runs sagas and replays records. Satisfied by the saga coordinator.
type Starter interface {
	Start(ctx context.Context, req *ledger.MutationRequest) (*saga.Outcome, error)
	Replay(ctx context.Context, recordID string) (*saga.Outcome, error)
}

// Config tunes the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. ":7040".
	Addr string

	// RequestTimeout bounds a single RPC invocation.
	RequestTimeout time.Duration
}

// rpcRequest is the accepted wire format:
// {"method": "saga_start", "params": {...}}.
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server handles the JSON-RPC POST surface.
type Server struct {
	cfg      Config
	starter  Starter
	idx      index.Index
	jnl      journal.Journal
	registry map[string]handlerFunc
	logger   zerolog.Logger
}

// New creates the RPC server and registers all methods.
func New(cfg Config, starter Starter, idx index.Index, jnl journal.Journal, logger zerolog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		starter: starter,
		idx:     idx,
		jnl:     jnl,
		logger:  logger.With().Str("component", "rpc").Logger(),
	}
	s.registry = map[string]handlerFunc{
		"saga_start":   s.handleSagaStart,
		"saga_replay":  s.handleSagaReplay,
		"saga_history": s.handleSagaHistory,
		"record_get":   s.handleRecordGet,
		"record_list":  s.handleRecordList,
		"ping":         s.handlePing,
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		writeResponse(w, rpcResponse{Status: "error", Error: "only POST is accepted", Code: "method_not_allowed"})
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		writeResponse(w, rpcResponse{Status: "error", Error: "invalid JSON: " + err.Error(), Code: "invalid_json"})
		return
	}
	if req.Method == "" {
		w.WriteHeader(http.StatusBadRequest)
		writeResponse(w, rpcResponse{Status: "error", Error: "missing method field", Code: "missing_method"})
		return
	}

	handler, ok := s.registry[req.Method]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeResponse(w, rpcResponse{Status: "error", Error: "unknown method " + req.Method, Code: "unknown_method"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	result, err := handler(ctx, req.Params)
	s.logger.Debug().
		Str("method", req.Method).
		Dur("elapsed", time.Since(start)).
		Bool("ok", err == nil).
		Msg("rpc handled")

	if err != nil {
		status, code := classify(err)
		w.WriteHeader(status)
		writeResponse(w, rpcResponse{Status: "error", Error: err.Error(), Code: code})
		return
	}
	writeResponse(w, rpcResponse{Status: "success", Result: result})
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	_ = json.NewEncoder(w).Encode(resp)
}

// classify maps domain errors onto HTTP statuses and stable error codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, saga.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, saga.ErrEntityBusy):
		return http.StatusConflict, "entity_busy"
	case errors.Is(err, saga.ErrNotReplayable):
		return http.StatusConflict, "not_replayable"
	case errors.Is(err, ledger.ErrUserDeclined):
		return http.StatusUnprocessableEntity, "user_declined"
	case errors.Is(err, ledger.ErrRejected):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, index.ErrNotFound), errors.Is(err, journal.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

type sagaStartParams struct {
	Kind           string `json:"kind"`
	Actor          string `json:"actor"`
	EntityID       string `json:"entity_id"`
	TargetHandle   string `json:"target_handle,omitempty"`
	PriceUnits     uint64 `json:"price_units,omitempty"`
	GasBudget      uint64 `json:"gas_budget,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	SignedPayload  string `json:"signed_payload"`
}

func (s *Server) handleSagaStart(ctx context.Context, params json.RawMessage) (any, error) {
	var p sagaStartParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	payload, err := base64.StdEncoding.DecodeString(p.SignedPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: signed_payload is not valid base64", saga.ErrInvalidRequest)
	}
	return s.starter.Start(ctx, &ledger.MutationRequest{
		Kind:           ledger.OperationKind(p.Kind),
		Actor:          p.Actor,
		EntityID:       p.EntityID,
		TargetHandle:   p.TargetHandle,
		PriceUnits:     p.PriceUnits,
		GasBudget:      p.GasBudget,
		IdempotencyKey: p.IdempotencyKey,
		SignedPayload:  payload,
	})
}

type recordIDParams struct {
	RecordID string `json:"record_id"`
}

func (s *Server) handleSagaReplay(ctx context.Context, params json.RawMessage) (any, error) {
	var p recordIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.starter.Replay(ctx, p.RecordID)
}

type sagaHistoryParams struct {
	SagaID string `json:"saga_id"`
}

func (s *Server) handleSagaHistory(ctx context.Context, params json.RawMessage) (any, error) {
	var p sagaHistoryParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	return s.jnl.History(ctx, p.SagaID)
}

type recordGetParams struct {
	RecordID string `json:"record_id,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
}

func (s *Server) handleRecordGet(ctx context.Context, params json.RawMessage) (any, error) {
	var p recordGetParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	switch {
	case p.RecordID != "":
		return s.idx.GetByID(ctx, p.RecordID)
	case p.EntityID != "":
		return s.idx.GetByEntity(ctx, p.EntityID)
	default:
		return nil, fmt.Errorf("%w: record_id or entity_id required", saga.ErrInvalidRequest)
	}
}

type recordListParams struct {
	Status string `json:"status"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Server) handleRecordList(ctx context.Context, params json.RawMessage) (any, error) {
	var p recordListParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.Status == "" {
		return nil, fmt.Errorf("%w: status required", saga.ErrInvalidRequest)
	}
	records, err := s.idx.ListByStatus(ctx, index.Status(p.Status), p.Limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*index.Record{}
	}
	return records, nil
}

func (s *Server) handlePing(ctx context.Context, params json.RawMessage) (any, error) {
	if err := s.idx.Ping(ctx); err != nil {
		return map[string]string{"index": "unavailable"}, nil
	}
	return map[string]string{"index": "ok"}, nil
}

func unmarshalParams(params json.RawMessage, out any) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: missing params", saga.ErrInvalidRequest)
	}
	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("%w: invalid params: %v", saga.ErrInvalidRequest, err)
	}
	return nil
}
