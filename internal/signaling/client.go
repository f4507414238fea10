package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/peerlink/internal/dns"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// ConnectTimeout bounds Connect, including the websocket handshake.
var ConnectTimeout = 10 * time.Second

// Handler receives inbound messages that did not originate from this client.
type Handler func(Message)

type handlerEntry struct {
	id int
	fn Handler
}

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	serverURL string
	userID    string
	dial      func(ctx context.Context, network, addr string) (net.Conn, error)

	mu       sync.Mutex
	conn     *websocket.Conn
	outgoing chan []byte
	done     chan struct{}
	closed   bool
	handlers []handlerEntry
	nextID   int
}

// NewClient creates a new signaling client for the given local user id.
func NewClient(serverURL, userID string) *Client {
	return &Client{
		serverURL: serverURL,
		userID:    userID,
		dial:      dns.DialContext,
		closed:    true,
	}
}

// UserID returns the local user id used for self-echo filtering.
func (c *Client) UserID() string {
	return c.userID
}

// Connect establishes the WebSocket connection, authenticating with token
// when it is non-empty. It fails with ErrConnect, and additionally with
// ErrConnectTimeout once ConnectTimeout elapses.
func (c *Client) Connect(ctx context.Context, token string) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("%w: invalid server URL: %w", ErrConnect, err)
	}

	c.mu.Lock()
	if !c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: ConnectTimeout,
		NetDialContext:   c.dial,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w after %s", ErrConnect, ErrConnectTimeout, ConnectTimeout)
		}
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.outgoing = make(chan []byte, sendBuffer)
	c.done = make(chan struct{})
	c.closed = false
	out, done := c.outgoing, c.done
	c.mu.Unlock()

	go c.readPump(conn, done)
	go c.writePump(conn, out, done)

	return nil
}

// AddMessageHandler registers fn for inbound messages and returns a function
// that removes it. Handlers run in registration order on the read goroutine.
func (c *Client) AddMessageHandler(fn Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers = append(c.handlers, handlerEntry{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, h := range c.handlers {
			if h.id == id {
				c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
				return
			}
		}
	}
}

// Done is closed when the current connection ends, locally or remotely.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer c.shutdown(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("signaling connection lost", "err", err)
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			slog.Debug("dropping signaling message", "err", err)
			continue
		}
		if msg.Sender() == c.userID {
			continue
		}

		c.mu.Lock()
		handlers := make([]handlerEntry, len(c.handlers))
		copy(handlers, c.handlers)
		c.mu.Unlock()

		for _, h := range handlers {
			h.fn(msg)
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump(conn *websocket.Conn, outgoing <-chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("signaling write failed", "err", err)
				c.shutdown(done)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(done)
				return
			}

		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// shutdown marks the connection owning done as finished. Calls for an older
// connection are ignored.
func (c *Client) shutdown(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != done || c.closed {
		return
	}
	c.closed = true
	close(done)
}

func (c *Client) send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	out, done := c.outgoing, c.done
	c.mu.Unlock()

	select {
	case out <- data:
		return nil
	case <-done:
		return ErrClosed
	}
}

// SendJoin announces the local user in roomID.
func (c *Client) SendJoin(roomID string) error {
	return c.send(&Join{From: c.userID, RoomID: roomID})
}

// SendOffer sends a plain offer to a peer.
func (c *Client) SendOffer(sdp webrtc.SessionDescription, to string) error {
	return c.send(&Offer{From: c.userID, To: to, SDP: sdp})
}

// SendCallOffer sends an offer the receiver must admit before answering.
func (c *Client) SendCallOffer(sdp webrtc.SessionDescription, to string) error {
	return c.send(&Offer{From: c.userID, To: to, SDP: sdp, Call: true})
}

// SendAnswer sends an answer to a peer.
func (c *Client) SendAnswer(sdp webrtc.SessionDescription, to string) error {
	return c.send(&Answer{From: c.userID, To: to, SDP: sdp})
}

// SendICECandidate forwards a local candidate to a peer.
func (c *Client) SendICECandidate(candidate webrtc.ICECandidateInit, to string) error {
	return c.send(&ICECandidate{From: c.userID, To: to, Candidate: candidate})
}

// Disconnect closes the WebSocket connection. It is safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		c.shutdown(done)
	}
}
