package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/minexhq/minex/pkg/broadcast"
	"github.com/minexhq/minex/pkg/exchange"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is handled by the main server.
		return true
	},
}

// Hub maintains active websocket connections. Symbol subscriptions live in
// the ConnectionRegistry, not here: the hub only moves bytes, the registry
// decides who gets what.
type Hub struct {
	registry broadcast.ConnectionRegistry

	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	log *zap.Logger
}

func NewHub(registry broadcast.ConnectionRegistry, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.Named("ws"),
	}
}

// Run owns the client map until the context ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client connected", zap.String("conn_id", client.id), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.registry.Remove(client.id)
			h.log.Info("client disconnected", zap.String("conn_id", client.id), zap.Int("total", total))
		}
	}
}

// Push implements broadcast.Pusher. A missing client is definitively gone; a
// full send buffer is transient and left to the broadcaster's retry policy.
//
// The read lock is held across the send: unregister closes the channel only
// under the write lock, so a send made under the read lock can never hit a
// closed channel.
func (h *Hub) Push(connID string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connID]
	if !ok {
		return broadcast.ErrConnGone
	}

	select {
	case client.send <- payload:
		return nil
	default:
		return &exchange.TransientError{Op: "ws push", Err: errBufferFull}
	}
}

var errBufferFull = bufferFullError{}

type bufferFullError struct{}

func (bufferFullError) Error() string { return "send buffer full" }

// Client represents one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// drop hands the client back to the hub. Does not block if the hub has
// already stopped.
func (c *Client) drop() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump consumes subscription requests until the connection dies.
func (c *Client) readPump() {
	defer func() {
		c.drop()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		// Liveness refreshes the registry TTL.
		c.hub.registry.Touch(c.id)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var req WSRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Warn("invalid message", zap.String("conn_id", c.id), zap.Error(err))
			continue
		}

		switch req.Action {
		case "subscribe":
			if len(req.Symbols) == 0 {
				c.reply(ErrorResponse{Error: "no symbols provided"})
				continue
			}
			symbols := normalizeSymbols(req.Symbols)
			c.hub.registry.Subscribe(c.id, symbols)
			c.hub.log.Info("subscribed", zap.String("conn_id", c.id), zap.Strings("symbols", symbols))
			c.reply(WSAck{Message: "Subscribed successfully", Symbols: symbols})

		case "unsubscribe":
			symbols := normalizeSymbols(req.Symbols)
			c.hub.registry.Unsubscribe(c.id, symbols)
			c.reply(WSAck{Message: "Unsubscribed successfully", Symbols: symbols})

		default:
			c.reply(ErrorResponse{Error: "unknown action"})
		}
	}
}

// writePump flushes outbound messages and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain anything already queued into the same frame batch.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) reply(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", zap.Error(err))
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
		id:   uuid.NewString(),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
