package signaling

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	auth     chan string
	received chan Envelope
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		auth:     make(chan string, 1),
		received: make(chan Envelope, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ts.received <- env
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestClientConnectAndFilterSelfEcho(t *testing.T) {
	ts := newTestServer(t)
	client := NewClient(ts.wsURL(), "A")

	require.NoError(t, client.Connect(context.Background(), "tok"))
	defer client.Disconnect()
	assert.Equal(t, "Bearer tok", <-ts.auth)

	got := make(chan Message, 4)
	unsubscribe := client.AddMessageHandler(func(m Message) { got <- m })

	server := <-ts.conns
	self, _ := Encode(&Join{From: "A", RoomID: "r"})
	other, _ := Encode(&Join{From: "B", RoomID: "r"})
	require.NoError(t, server.WriteMessage(websocket.TextMessage, self))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, other))

	select {
	case m := <-got:
		assert.Equal(t, "B", m.Sender())
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	unsubscribe()
	require.NoError(t, server.WriteMessage(websocket.TextMessage, other))
	select {
	case m := <-got:
		t.Fatalf("unsubscribed handler received %v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientSendsAddressedMessages(t *testing.T) {
	ts := newTestServer(t)
	client := NewClient(ts.wsURL(), "A")
	require.NoError(t, client.Connect(context.Background(), ""))
	defer client.Disconnect()
	assert.Empty(t, <-ts.auth)

	require.NoError(t, client.SendOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}, "B"))
	require.NoError(t, client.SendICECandidate(webrtc.ICECandidateInit{Candidate: "c1"}, "B"))

	first := <-ts.received
	assert.Equal(t, TypeOffer, first.Type)
	assert.Equal(t, "A", first.From)
	assert.Equal(t, "B", first.To)

	second := <-ts.received
	assert.Equal(t, TypeICECandidate, second.Type)
}

func TestClientDisconnectIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	client := NewClient(ts.wsURL(), "A")
	require.NoError(t, client.Connect(context.Background(), ""))

	client.Disconnect()
	client.Disconnect()

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	require.ErrorIs(t, client.SendJoin("r"), ErrClosed)
}

func TestClientConnectFailure(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/ws", "A")
	err := client.Connect(context.Background(), "")
	require.ErrorIs(t, err, ErrConnect)
}

func TestClientConnectTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// accept and never answer the handshake
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	prev := ConnectTimeout
	ConnectTimeout = 150 * time.Millisecond
	defer func() { ConnectTimeout = prev }()

	client := NewClient("ws://"+ln.Addr().String()+"/ws", "A")
	err = client.Connect(context.Background(), "")
	require.ErrorIs(t, err, ErrConnect)
	require.ErrorIs(t, err, ErrConnectTimeout)
}
