package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/LeJamon/goMarketd/internal/saga"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 45 * time.Second
)

// EventHub streams saga events to WebSocket subscribers. It implements
// saga.Notifier so the coordinator can publish transitions without knowing
// about connections.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*wsConn
}

type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	// entity filter; empty means all events.
	entity string
}

// NewEventHub creates an empty hub.
func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws").Logger(),
		conns:  make(map[string]*wsConn),
	}
}

// Notify implements saga.Notifier. Events are dropped for subscribers whose
// send buffer is full; the stream is advisory, the index is the source of
// truth.
func (h *EventHub) Notify(e saga.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn().Err(err).Msg("marshalling saga event failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.entity != "" && c.entity != e.EntityID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Str("conn", c.id).Msg("subscriber too slow, dropping event")
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects. An optional ?entity=<id> query filters to one entity.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsConn{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		entity: r.URL.Query().Get("entity"),
	}
	h.register(c)
	h.logger.Debug().Str("conn", c.id).Str("entity", c.entity).Msg("subscriber connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *EventHub) register(c *wsConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *wsConn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; ok {
		delete(h.conns, c.id)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump discards inbound frames and tears the connection down on error.
func (h *EventHub) readPump(c *wsConn) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Debug().Str("conn", c.id).Msg("subscriber disconnected")
	}()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(c *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects all subscribers.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		close(c.send)
		delete(h.conns, id)
	}
}
