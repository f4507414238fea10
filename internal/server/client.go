package server

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/BioHazard786/peerlink/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one websocket connection. id and roomID are owned by the hub.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	claims  *signaling.Claims
	limiter *rate.Limiter

	id     string
	roomID string
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, claims *signaling.Claims, limiter *rate.Limiter) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		claims:  claims,
		limiter: limiter,
	}
}

// authorized reports whether the connection's token allows joining room as
// from. Connections accepted without a secret carry no claims.
func (c *Client) authorized(from, room string) bool {
	if c.claims == nil {
		return true
	}
	if c.claims.UserID != from {
		return false
	}
	return c.claims.RoomID == "" || c.claims.RoomID == room
}

func (c *Client) deliver(m signaling.Message) {
	data, err := signaling.Encode(m)
	if err != nil {
		slog.Error("failed to encode message", "type", m.MessageType(), "err", err)
		return
	}
	c.sendRaw(data)
}

// sendRaw queues data for the write pump. A client that cannot keep up is
// dropped.
func (c *Client) sendRaw(data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping connection", "id", c.id)
		c.close()
	}
}

func (c *Client) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "err", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			slog.Warn("client hit rate limit", "addr", c.conn.RemoteAddr())
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit"),
				time.Now().Add(writeWait))
			return
		}

		var env signaling.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("invalid envelope", "addr", c.conn.RemoteAddr(), "err", err)
			continue
		}

		select {
		case c.hub.broadcast <- inbound{client: c, env: &env}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("websocket write error", "err", err)
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
