package codesync

import (
	"fmt"
	"log/slog"
	"sync"
)

// Transport sends raw bytes over the data channels. An empty to broadcasts.
type Transport interface {
	SendData(data []byte, to string) bool
}

// Session binds a Document to a Transport.
type Session struct {
	selfID string
	tr     Transport
	doc    Document

	mu        sync.Mutex
	listeners []func(from string, u Update)
}

func NewSession(selfID string, tr Transport) *Session {
	return &Session{selfID: selfID, tr: tr}
}

func (s *Session) Snapshot() Update {
	return s.doc.Snapshot()
}

// OnRemoteUpdate registers fn to run whenever a peer's update replaces the
// document.
func (s *Session) OnRemoteUpdate(fn func(from string, u Update)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Load sets the initial content without broadcasting it.
func (s *Session) Load(content string) Update {
	u, _ := s.doc.Edit(s.selfID, content)
	return u
}

// Publish records a local edit and broadcasts it. Unchanged content is not
// sent. ErrUndelivered means the edit was kept but no peer received it.
func (s *Session) Publish(content string) (Update, error) {
	u, changed := s.doc.Edit(s.selfID, content)
	if !changed {
		return u, nil
	}
	return u, s.send(TypeCodeUpdate, u, "")
}

// RequestSync asks peerID for its copy of the document.
func (s *Session) RequestSync(peerID string) error {
	return s.send(TypeSyncRequest, nil, peerID)
}

// HandleData consumes one message received from a peer.
func (s *Session) HandleData(from string, data []byte) error {
	msg, err := Decode(data)
	if err != nil {
		return err
	}

	switch msg.Type {
	case TypeCodeUpdate:
		var u Update
		if err := msg.DecodePayload(&u); err != nil {
			return fmt.Errorf("decode %s from %s: %w", msg.Type, from, err)
		}
		if !s.doc.Apply(u) {
			slog.Debug("stale code update ignored", "from", from, "version", u.Version)
			return nil
		}
		slog.Debug("code update applied", "from", from, "version", u.Version, "author", u.Author)
		s.emit(from, u)
		return nil

	case TypeSyncRequest:
		snap := s.doc.Snapshot()
		if snap.Version == 0 {
			return nil
		}
		return s.send(TypeCodeUpdate, snap, from)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

func (s *Session) send(t string, payload any, to string) error {
	data, err := Encode(t, payload)
	if err != nil {
		return err
	}
	if !s.tr.SendData(data, to) {
		return ErrUndelivered
	}
	return nil
}

func (s *Session) emit(from string, u Update) {
	s.mu.Lock()
	listeners := append([]func(string, Update){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(from, u)
	}
}
