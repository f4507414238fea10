package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/BioHazard786/peerlink/internal/signaling"
)

// ICEServer is the JSON shape served on /turn.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Options configures a Server.
type Options struct {
	Addr string

	// Secret enables token checks on /ws and token issuing on /token.
	Secret string

	ICEServers []ICEServer

	// MessageRate and MessageBurst bound inbound messages per connection.
	// A zero rate disables the limit.
	MessageRate  rate.Limit
	MessageBurst int
}

const (
	DefaultMessageRate  = rate.Limit(20)
	DefaultMessageBurst = 60
)

type Server struct {
	opts     Options
	hub      *Hub
	upgrader websocket.Upgrader
	now      func() time.Time
}

func New(opts Options) *Server {
	return &Server{
		opts: opts,
		hub:  NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Handler routes the signaling endpoints. The hub must be running.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)
	mux.HandleFunc("GET /turn", s.serveICE)
	mux.HandleFunc("GET /token", s.serveToken)
	mux.HandleFunc("/health", healthCheckHandler)
	return mux
}

// Run serves on opts.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("signaling server listening", "addr", s.opts.Addr, "auth", s.opts.Secret != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	var claims *signaling.Claims
	if s.opts.Secret != "" {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		c, err := signaling.ParseToken(s.opts.Secret, token)
		if err != nil {
			slog.Warn("rejected websocket connection", "addr", r.RemoteAddr, "err", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		claims = c
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("failed to upgrade connection", "err", err)
		return
	}

	var limiter *rate.Limiter
	if s.opts.MessageRate > 0 {
		limiter = rate.NewLimiter(s.opts.MessageRate, s.opts.MessageBurst)
	}
	client := newClient(s.hub, conn, claims, limiter)

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) serveICE(w http.ResponseWriter, r *http.Request) {
	servers := s.opts.ICEServers
	if servers == nil {
		servers = []ICEServer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

func (s *Server) serveToken(w http.ResponseWriter, r *http.Request) {
	if s.opts.Secret == "" {
		http.NotFound(w, r)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	token, err := signaling.SignToken(s.opts.Secret, userID, r.URL.Query().Get("roomId"), s.now())
	if err != nil {
		slog.Error("failed to sign token", "err", err)
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "err", err)
	}
}
