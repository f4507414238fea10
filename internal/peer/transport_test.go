package peer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/peerlink/internal/signaling"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hangupServer accepts one websocket, reads the join and closes the socket.
func hangupServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conn.ReadMessage()
		conn.Close()
	}))
}

func TestServerHangupDisconnects(t *testing.T) {
	srv := hangupServer(t)
	defer srv.Close()

	client := signaling.NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), "A")
	mgr := NewManager(Options{UserID: "A", Signaler: client, Factory: &fakeFactory{}})
	lost := make(chan struct{}, 2)
	mgr.OnSignalingLost(func() { lost <- struct{}{} })

	waitLost := func() {
		t.Helper()
		select {
		case <-lost:
		case <-time.After(5 * time.Second):
			t.Fatal("server hangup not noticed")
		}
	}

	require.NoError(t, mgr.JoinRoom(context.Background(), "room-1"))
	waitLost()
	assert.Equal(t, StatusDisconnected, mgr.Status())
	assert.Empty(t, mgr.RoomID())

	// a fresh join dials again, and is hung up on again
	require.NoError(t, mgr.JoinRoom(context.Background(), "room-1"))
	waitLost()
	assert.Equal(t, StatusDisconnected, mgr.Status())
}
