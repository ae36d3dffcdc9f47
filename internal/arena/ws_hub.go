// Package arena — WebSocket hub for real-time quote and fill broadcasting.
package arena

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fxarena/arena-engine/internal/feed"
	"github.com/fxarena/arena-engine/internal/metrics"
	"github.com/fxarena/arena-engine/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type       string `json:"type"` // "quote" or "fill"
	Instrument string `json:"instrument"`
	Bid        string `json:"bid,omitempty"`
	Ask        string `json:"ask,omitempty"`
	Session    int64  `json:"session,omitempty"`
	EntryID    string `json:"entry_id,omitempty"`
	Side       string `json:"side,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Price      string `json:"price,omitempty"`
	Quantity   int64  `json:"quantity,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// wsClient is one connection plus its outbound queue. Every write to the
// connection, pings included, happens on its writePump goroutine:
// gorilla/websocket supports at most one concurrent writer per connection.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub manages WebSocket connections and broadcasts quote ticks and fills
// to all connected clients. The client map is owned by the Run goroutine;
// everything else talks to it through channels.
type WSHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "total", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop the message rather than block.
				}
			}
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking the tick path.
	}
}

// StreamQuotes forwards every instrument's latest-only quote stream to the
// hub until the context is cancelled.
func (h *WSHub) StreamQuotes(ctx context.Context, f *feed.Feed) {
	for _, symbol := range f.Symbols() {
		ch, cancel, err := f.Subscribe(symbol)
		if err != nil {
			continue
		}
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case q := <-ch:
					h.Broadcast(WSMessage{
						Type:       "quote",
						Instrument: q.Instrument,
						Bid:        q.Bid.String(),
						Ask:        q.Ask.String(),
						Session:    q.Session,
						Timestamp:  q.Timestamp.UTC().Format(time.RFC3339Nano),
					})
				}
			}
		}()
	}
}

// BroadcastFill publishes an executed fill; wired as an engine fill hook.
func (h *WSHub) BroadcastFill(f model.Fill) {
	h.Broadcast(WSMessage{
		Type:       "fill",
		Instrument: f.Instrument,
		EntryID:    f.EntryID,
		Side:       string(f.Side),
		Reason:     string(f.Reason),
		Price:      f.FillPrice.String(),
		Quantity:   f.QuantityUnits,
		Timestamp:  f.FilledAt.UTC().Format(time.RFC3339Nano),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	h.register <- c
	go h.writePump(c)
	go h.readPump(c)
}

// writePump is the connection's sole writer: it drains the send queue and
// owns the ping ticker, so broadcasts and keepalives never write concurrently.
func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive and detects disconnects.
func (h *WSHub) readPump(c *wsClient) {
	defer func() { h.unregister <- c }()
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
