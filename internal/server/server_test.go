package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/journal"
	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/LeJamon/goMarketd/internal/resolve"
	"github.com/LeJamon/goMarketd/internal/saga"
)

type stubStarter struct {
	lastReq   *ledger.MutationRequest
	outcome   *saga.Outcome
	startErr  error
	replayed  string
	replayErr error
}

func (s *stubStarter) Start(ctx context.Context, req *ledger.MutationRequest) (*saga.Outcome, error) {
	s.lastReq = req
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.outcome, nil
}

func (s *stubStarter) Replay(ctx context.Context, recordID string) (*saga.Outcome, error) {
	s.replayed = recordID
	if s.replayErr != nil {
		return nil, s.replayErr
	}
	return s.outcome, nil
}

type stubIndex struct {
	index.Index
	records map[string]*index.Record
	pingErr error
}

func (s *stubIndex) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubIndex) GetByID(ctx context.Context, id string) (*index.Record, error) {
	if rec, ok := s.records[id]; ok {
		return rec, nil
	}
	return nil, index.ErrNotFound
}

func (s *stubIndex) GetByEntity(ctx context.Context, entityID string) (*index.Record, error) {
	for _, rec := range s.records {
		if rec.EntityID == entityID {
			return rec, nil
		}
	}
	return nil, index.ErrNotFound
}

func (s *stubIndex) ListByStatus(ctx context.Context, status index.Status, limit int) ([]*index.Record, error) {
	var out []*index.Record
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

type stubJournal struct {
	entries map[string][]journal.Entry
}

func (s *stubJournal) Append(ctx context.Context, e journal.Entry) error { return nil }
func (s *stubJournal) Close() error                                      { return nil }

func (s *stubJournal) History(ctx context.Context, sagaID string) ([]journal.Entry, error) {
	if entries, ok := s.entries[sagaID]; ok {
		return entries, nil
	}
	return nil, journal.ErrNotFound
}

func newTestServer(t *testing.T, starter *stubStarter, idx *stubIndex, jnl *stubJournal) *httptest.Server {
	t.Helper()
	if idx == nil {
		idx = &stubIndex{records: map[string]*index.Record{}}
	}
	if jnl == nil {
		jnl = &stubJournal{entries: map[string][]journal.Entry{}}
	}
	srv := httptest.NewServer(New(Config{}, starter, idx, jnl, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, url, method string, params any) (*http.Response, rpcResponse) {
	t.Helper()
	body := map[string]any{"method": method}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestSagaStart(t *testing.T) {
	starter := &stubStarter{outcome: &saga.Outcome{
		SagaID: "s1",
		State:  saga.StateConfirmed,
		Digest: "TX1",
		Resolved: resolve.ResolvedIdentifier{
			Handle: "L1", Confidence: resolve.ConfidenceExact, Method: resolve.MethodExactType,
		},
	}}
	srv := newTestServer(t, starter, nil, nil)

	resp, decoded := call(t, srv.URL, "saga_start", map[string]any{
		"kind":           "create-listing",
		"actor":          "0xseller",
		"entity_id":      "E1",
		"price_units":    100,
		"signed_payload": base64.StdEncoding.EncodeToString([]byte("blob")),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decoded.Status)

	require.NotNil(t, starter.lastReq)
	assert.Equal(t, ledger.OpCreateListing, starter.lastReq.Kind)
	assert.Equal(t, []byte("blob"), starter.lastReq.SignedPayload)

	out, err := json.Marshal(decoded.Result)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"CONFIRMED"`)
}

func TestSagaStartBadPayload(t *testing.T) {
	srv := newTestServer(t, &stubStarter{}, nil, nil)
	resp, decoded := call(t, srv.URL, "saga_start", map[string]any{
		"kind": "create-listing", "signed_payload": "not base64!!",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decoded.Code)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"busy entity", saga.ErrEntityBusy, http.StatusConflict, "entity_busy"},
		{"declined", ledger.ErrUserDeclined, http.StatusUnprocessableEntity, "user_declined"},
		{"rejected", ledger.ErrRejected, http.StatusUnprocessableEntity, "rejected"},
		{"invalid", saga.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubStarter{startErr: tt.err}, nil, nil)
			resp, decoded := call(t, srv.URL, "saga_start", map[string]any{
				"kind": "create-listing", "signed_payload": "",
			})
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, decoded.Code)
		})
	}
}

func TestSagaReplay(t *testing.T) {
	starter := &stubStarter{outcome: &saga.Outcome{SagaID: "s2", State: saga.StateConfirmed}}
	srv := newTestServer(t, starter, nil, nil)

	resp, decoded := call(t, srv.URL, "saga_replay", map[string]any{"record_id": "r1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decoded.Status)
	assert.Equal(t, "r1", starter.replayed)
}

func TestRecordGetAndList(t *testing.T) {
	idx := &stubIndex{records: map[string]*index.Record{
		"r1": {ID: "r1", EntityID: "E1", Status: index.StatusConfirmed, Handle: "L1"},
		"r2": {ID: "r2", EntityID: "E2", Status: index.StatusDegraded},
	}}
	srv := newTestServer(t, &stubStarter{}, idx, nil)

	resp, decoded := call(t, srv.URL, "record_get", map[string]any{"record_id": "r1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out, _ := json.Marshal(decoded.Result)
	assert.Contains(t, string(out), "L1")

	resp, _ = call(t, srv.URL, "record_get", map[string]any{"entity_id": "E2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, srv.URL, "record_get", map[string]any{"record_id": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, decoded = call(t, srv.URL, "record_list", map[string]any{"status": "degraded"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list, ok := decoded.Result.([]any)
	require.True(t, ok)
	assert.Len(t, list, 1)

	resp, decoded = call(t, srv.URL, "record_list", map[string]any{"status": "failed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list, ok = decoded.Result.([]any)
	require.True(t, ok)
	assert.Empty(t, list)
}

func TestSagaHistory(t *testing.T) {
	jnl := &stubJournal{entries: map[string][]journal.Entry{
		"s1": {{SagaID: "s1", Seq: 1, State: "INIT"}, {SagaID: "s1", Seq: 2, State: "SUBMITTING"}},
	}}
	srv := newTestServer(t, &stubStarter{}, nil, jnl)

	resp, decoded := call(t, srv.URL, "saga_history", map[string]any{"saga_id": "s1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list, ok := decoded.Result.([]any)
	require.True(t, ok)
	assert.Len(t, list, 2)

	resp, _ = call(t, srv.URL, "saga_history", map[string]any{"saga_id": "unknown"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMalformedRequests(t *testing.T) {
	srv := newTestServer(t, &stubStarter{}, nil, nil)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = call(t, srv.URL, "no_such_method", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = call(t, srv.URL, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventHubStreamsSagaEvents(t *testing.T) {
	hub := NewEventHub(zerolog.Nop())
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the hub to register the connection.
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.Notify(saga.Event{SagaID: "s1", EntityID: "E1", State: saga.StateConfirmed})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var e saga.Event
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "s1", e.SagaID)
	assert.Equal(t, saga.StateConfirmed, e.State)
}

func TestEventHubEntityFilter(t *testing.T) {
	hub := NewEventHub(zerolog.Nop())
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?entity=E2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.Notify(saga.Event{SagaID: "s1", EntityID: "E1", State: saga.StateFailed})
	hub.Notify(saga.Event{SagaID: "s2", EntityID: "E2", State: saga.StateConfirmed})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var e saga.Event
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "E2", e.EntityID)
}
