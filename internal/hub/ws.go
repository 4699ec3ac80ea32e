package hub

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papertrade/trading-engine/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

var (
	ErrClientClosed = errors.New("hub: client closed")
	ErrSlowConsumer = errors.New("hub: client send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // CORS is enforced by the router.
	},
}

// Client is a WebSocket Subscriber. Messages queue in a bounded buffer that
// a single write pump drains in order.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send enqueues msg without blocking.
func (c *Client) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump and tears down the connection. Idempotent.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Snapshotter supplies the current price map for newly connected clients.
type Snapshotter interface {
	Snapshot() map[string]model.PriceTick
}

// HandleWS returns the handler for GET /api/v1/ws. New clients get the
// current price map right away, then every broadcast tick.
func (h *Hub) HandleWS(prices Snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("ws upgrade failed", "err", err)
			return
		}

		c := newClient(conn)
		if prices != nil {
			if payload, err := PriceUpdate(prices.Snapshot()); err == nil {
				c.Send(payload)
			}
		}
		h.Subscribe(c)

		go c.writePump()
		go c.readPump(h)
	}
}

// readPump keeps the connection alive and detects disconnects. Clients
// are not expected to send anything meaningful.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.Unsubscribe(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read error", "err", err)
			}
			return
		}
		// Any client frame also counts as a heartbeat.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
