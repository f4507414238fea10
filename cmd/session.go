package cmd

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/peerlink/internal/call"
	"github.com/BioHazard786/peerlink/internal/codesync"
	"github.com/BioHazard786/peerlink/internal/peer"
	"github.com/BioHazard786/peerlink/internal/ui"
)

// RoomManager is the part of peer.Manager a room session drives.
type RoomManager interface {
	call.Negotiator
	UserID() string
	RoomID() string
	Status() peer.Status
	Peers() []string
	PeerStates() []peer.PeerState
	SendData(data []byte, to string) bool
	OnChange(fn func())
	OnIncomingCall(fn peer.IncomingCallFunc)
	OnLeave(fn func())
	OnChannelOpen(fn func(peerID string))
	OnPeerData(remoteID string, fn func(from string, data []byte)) bool
}

// roomSession ties the peer manager, the call controller and code sync
// together and serves the session view.
type roomSession struct {
	ctx        context.Context
	mgr        RoomManager
	ctrl       *call.Controller
	sync       *codesync.Session
	autoAccept bool
	watchPath  string
	started    time.Time

	mu          sync.Mutex
	callTargets map[string]bool
	refresh     func()
}

type sessionOptions struct {
	AutoAccept  bool
	CallTargets []string
	Alerts      []call.Option
}

func newRoomSession(ctx context.Context, mgr RoomManager, opts sessionOptions) *roomSession {
	s := &roomSession{
		ctx:         ctx,
		mgr:         mgr,
		ctrl:        call.New(mgr, opts.Alerts...),
		sync:        codesync.NewSession(mgr.UserID(), mgr),
		autoAccept:  opts.AutoAccept,
		started:     time.Now(),
		callTargets: make(map[string]bool),
		refresh:     func() {},
	}
	for _, id := range opts.CallTargets {
		s.callTargets[id] = true
	}

	mgr.OnIncomingCall(s.admit)
	mgr.OnLeave(s.ctrl.Reset)
	mgr.OnChannelOpen(s.channelOpened)
	mgr.OnChange(s.changed)
	s.ctrl.OnChange(s.changed)
	s.sync.OnRemoteUpdate(func(string, codesync.Update) { s.changed() })
	return s
}

// SetRefresh sets what runs after any state change.
func (s *roomSession) SetRefresh(fn func()) {
	s.mu.Lock()
	s.refresh = fn
	s.mu.Unlock()
}

func (s *roomSession) changed() {
	s.mu.Lock()
	fn := s.refresh
	s.mu.Unlock()
	fn()
}

// admit queues call offers. With auto-accept the queued call is answered
// right away, still through the controller.
func (s *roomSession) admit(from string) bool {
	if !s.ctrl.Enqueue(from) {
		return false
	}
	if s.autoAccept {
		go func() {
			if err := s.ctrl.AcceptCall(s.ctx, from); err != nil && !errors.Is(err, call.ErrNoSuchCall) {
				slog.Error("auto-accept failed", "peer", from, "err", err)
			}
		}()
	}
	return true
}

func (s *roomSession) channelOpened(peerID string) {
	s.mgr.OnPeerData(peerID, func(from string, data []byte) {
		if err := s.sync.HandleData(from, data); err != nil {
			slog.Debug("bad sync message", "from", from, "err", err)
		}
	})
	if err := s.sync.RequestSync(peerID); err != nil {
		slog.Debug("sync request not sent", "peer", peerID, "err", err)
	}

	s.mu.Lock()
	wanted := s.callTargets[peerID]
	delete(s.callTargets, peerID)
	s.mu.Unlock()

	if wanted {
		go func() {
			if err := s.ctrl.StartCall(s.ctx, []string{peerID}); err != nil {
				slog.Error("call failed", "peer", peerID, "err", err)
			}
		}()
	}
}

func (s *roomSession) Snapshot() ui.Snapshot {
	snap := ui.Snapshot{
		RoomID:   s.mgr.RoomID(),
		UserID:   s.mgr.UserID(),
		Status:   s.mgr.Status().String(),
		Incoming: s.ctrl.Incoming(),
		Muted:    s.ctrl.Muted(),
	}
	for _, st := range s.mgr.PeerStates() {
		snap.Peers = append(snap.Peers, ui.PeerRow{
			ID:          st.ID,
			Phase:       st.Phase.String(),
			Connection:  st.Connection.String(),
			ChannelOpen: st.ChannelOpen,
			HasMedia:    st.HasMedia,
			InCall:      s.ctrl.IsInCall(st.ID),
		})
	}
	if s.watchPath != "" {
		snap.WatchPath = s.watchPath
		snap.DocVersion = s.sync.Snapshot().Version
	}
	return snap
}

func (s *roomSession) AcceptCall(peerID string) error {
	return s.ctrl.AcceptCall(s.ctx, peerID)
}

func (s *roomSession) DeclineCall(peerID string) {
	s.ctrl.DeclineCall(peerID)
}

func (s *roomSession) AcceptAll() error {
	return s.ctrl.AcceptAll(s.ctx)
}

func (s *roomSession) DeclineAll() {
	s.ctrl.DeclineAll()
}

// CallPeers calls every peer not already in a call.
func (s *roomSession) CallPeers() error {
	var targets []string
	for _, id := range s.mgr.Peers() {
		if id == s.mgr.UserID() || s.ctrl.IsInCall(id) {
			continue
		}
		targets = append(targets, id)
	}
	return s.ctrl.StartCall(s.ctx, targets)
}

func (s *roomSession) ToggleMic() bool {
	return s.ctrl.ToggleMic()
}

// Summary captures what to print after leaving. Call it before LeaveRoom.
func (s *roomSession) Summary() ui.SessionSummary {
	snap := s.Snapshot()
	return ui.SessionSummary{
		RoomID:     snap.RoomID,
		UserID:     snap.UserID,
		Duration:   time.Since(s.started),
		Peers:      snap.Peers,
		DocVersion: snap.DocVersion,
		WatchPath:  snap.WatchPath,
	}
}
