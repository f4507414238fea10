package peer

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/BioHazard786/peerlink/internal/media"
	"github.com/BioHazard786/peerlink/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Signaler is the transport the manager negotiates over.
type Signaler interface {
	Connect(ctx context.Context, token string) error
	AddMessageHandler(fn signaling.Handler) func()
	SendJoin(roomID string) error
	SendOffer(sdp webrtc.SessionDescription, to string) error
	SendCallOffer(sdp webrtc.SessionDescription, to string) error
	SendAnswer(sdp webrtc.SessionDescription, to string) error
	SendICECandidate(c webrtc.ICECandidateInit, to string) error
	Disconnect()
	// Done is closed when the current connection ends.
	Done() <-chan struct{}
}

// Status is the session-wide connection status.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configure a Manager. UserID and Signaler are required.
type Options struct {
	UserID     string
	Signaler   Signaler
	Tokens     signaling.TokenSource
	Media      media.Source
	MediaKinds media.Constraints
	Factory    ConnectionFactory
	ICE        ICEServerSource
	ForceRelay bool
}

// IncomingCallFunc is told about a call offer from a peer. Returning false
// means the offer is not queued and should be answered straight away.
type IncomingCallFunc func(from string) bool

// Manager owns one Record per remote peer of the current room.
type Manager struct {
	userID     string
	signaler   Signaler
	tokens     signaling.TokenSource
	source     media.Source
	mediaKinds media.Constraints
	factory    ConnectionFactory
	ice        ICEServerSource
	forceRelay bool

	mu          sync.Mutex
	records     map[string]*Record
	peers       []string
	peerSet     map[string]struct{}
	joining     bool
	roomID      string
	session     uint64
	ctx         context.Context
	cancel      context.CancelFunc
	local       *media.Stream
	unsubscribe func()

	hookMu        sync.Mutex
	listeners     []func()
	onIncoming    IncomingCallFunc
	leaveHooks    []func()
	channelOpened []func(peerID string)
	lostHooks     []func()
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		userID:     opts.UserID,
		signaler:   opts.Signaler,
		tokens:     opts.Tokens,
		source:     opts.Media,
		mediaKinds: opts.MediaKinds,
		factory:    opts.Factory,
		ice:        opts.ICE,
		forceRelay: opts.ForceRelay,
		records:    make(map[string]*Record),
		peerSet:    make(map[string]struct{}),
		ctx:        context.Background(),
	}
	if m.tokens == nil {
		m.tokens = signaling.NewTokenSource("", "")
	}
	if m.ice == nil {
		m.ice = StaticICESource(nil)
	}
	if m.mediaKinds == (media.Constraints{}) {
		m.mediaKinds = media.Constraints{Audio: true, Video: true}
	}
	return m
}

func (m *Manager) UserID() string { return m.userID }

// OnChange registers fn to run whenever peers, channels, or connection
// states change. fn must not block.
func (m *Manager) OnChange(fn func()) {
	m.hookMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.hookMu.Unlock()
}

// OnIncomingCall installs the admission hook for call offers.
func (m *Manager) OnIncomingCall(fn IncomingCallFunc) {
	m.hookMu.Lock()
	m.onIncoming = fn
	m.hookMu.Unlock()
}

// OnLeave registers fn to run at the end of every LeaveRoom.
func (m *Manager) OnLeave(fn func()) {
	m.hookMu.Lock()
	m.leaveHooks = append(m.leaveHooks, fn)
	m.hookMu.Unlock()
}

// OnSignalingLost registers fn to run after the signaling connection dropped
// and the room was left because of it.
func (m *Manager) OnSignalingLost(fn func()) {
	m.hookMu.Lock()
	m.lostHooks = append(m.lostHooks, fn)
	m.hookMu.Unlock()
}

// OnChannelOpen registers fn to run when a peer's data channel opens.
func (m *Manager) OnChannelOpen(fn func(peerID string)) {
	m.hookMu.Lock()
	m.channelOpened = append(m.channelOpened, fn)
	m.hookMu.Unlock()
}

func (m *Manager) notify() {
	m.hookMu.Lock()
	listeners := append([]func(){}, m.listeners...)
	m.hookMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Status is computed from the record table on every call: connected when any
// peer connection is connected, connecting while a room is being joined or
// is joined, disconnected otherwise.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.conn.ConnectionState() == webrtc.PeerConnectionStateConnected {
			return StatusConnected
		}
	}
	if m.joining || m.roomID != "" {
		return StatusConnecting
	}
	return StatusDisconnected
}

// RoomID returns the joined room, or "" when not in one.
func (m *Manager) RoomID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

// Peers returns the participant ids learned through signaling, in order of
// first sighting.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.peers...)
}

// Record returns the record for id, or nil.
func (m *Manager) Record(id string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

// RemoteStreams returns the latest remote stream of every peer that sent media.
func (m *Manager) RemoteStreams() map[string]*RemoteStream {
	out := make(map[string]*RemoteStream)
	for _, rec := range m.snapshot() {
		if rs := rec.RemoteStream(); rs != nil {
			out[rec.id] = rs
		}
	}
	return out
}

// PeerState summarizes one record for display.
type PeerState struct {
	ID          string
	Phase       Phase
	Connection  webrtc.PeerConnectionState
	ChannelOpen bool
	HasMedia    bool
}

// PeerStates returns a summary of every record, sorted by peer id.
func (m *Manager) PeerStates() []PeerState {
	recs := m.snapshot()
	out := make([]PeerState, 0, len(recs))
	for _, rec := range recs {
		dc := rec.DataChannel()
		out = append(out, PeerState{
			ID:          rec.id,
			Phase:       rec.Phase(),
			Connection:  rec.conn.ConnectionState(),
			ChannelOpen: dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen,
			HasMedia:    rec.RemoteStream() != nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LocalStream returns the stream acquired by JoinRoom, or nil.
func (m *Manager) LocalStream() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

func (m *Manager) snapshot() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}

func (m *Manager) sessionContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// addPeer records a participant id. It reports whether the id was new.
func (m *Manager) addPeer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peerSet[id]; ok {
		return false
	}
	m.peerSet[id] = struct{}{}
	m.peers = append(m.peers, id)
	return true
}

// JoinRoom acquires local media, authenticates and connects signaling, then
// announces the local user. It does nothing unless the manager is
// disconnected. Media failures are logged and the session goes on without
// local tracks; token and connect failures abort the join.
func (m *Manager) JoinRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	if m.joining || m.roomID != "" {
		m.mu.Unlock()
		return nil
	}
	m.joining = true
	m.session++
	session := m.session
	m.mu.Unlock()
	m.notify()

	var stream *media.Stream
	if m.source != nil {
		s, err := m.source.GetUserMedia(ctx, m.mediaKinds)
		if err != nil {
			slog.Warn("continuing without local media",
				"err", WrapError("get user media", ErrMediaAccess, err.Error()))
		} else {
			stream = s
		}
	}

	abort := func(err error) error {
		if stream != nil {
			stream.Stop()
		}
		m.mu.Lock()
		if m.session == session {
			m.joining = false
		}
		m.mu.Unlock()
		m.notify()
		return err
	}

	token, err := m.tokens.Token(ctx, m.userID, roomID)
	if err != nil {
		return abort(NewError("join room", roomID, err))
	}

	if err := m.signaler.Connect(ctx, token); err != nil {
		return abort(NewError("join room", roomID, err))
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.session != session {
		// LeaveRoom ran while we were connecting.
		m.mu.Unlock()
		cancel()
		m.signaler.Disconnect()
		if stream != nil {
			stream.Stop()
		}
		return nil
	}
	m.local = stream
	m.roomID = roomID
	m.joining = false
	m.ctx, m.cancel = sessionCtx, cancel
	m.mu.Unlock()

	unsubscribe := m.signaler.AddMessageHandler(m.handleMessage)

	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		unsubscribe()
		return nil
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	go m.watchSignaling(sessionCtx, session, m.signaler.Done())

	if err := m.signaler.SendJoin(roomID); err != nil {
		slog.Error("failed to announce join", "room", roomID, "err", err)
	}

	slog.Info("joined room", "room", roomID, "user", m.userID)
	m.notify()
	return nil
}

// watchSignaling leaves the room when the signaling connection of session
// ends on its own.
func (m *Manager) watchSignaling(ctx context.Context, session uint64, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-done:
	}

	m.mu.Lock()
	current := m.session == session && m.roomID != ""
	m.mu.Unlock()
	if !current {
		return
	}

	slog.Warn("signaling connection lost, leaving room")
	m.LeaveRoom()

	m.hookMu.Lock()
	hooks := append([]func(){}, m.lostHooks...)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// LeaveRoom is the only teardown path. It closes every connection and data
// channel, drops all records and buffers, stops local media, disconnects
// signaling and runs the leave hooks. Negotiations still in flight are
// abandoned against closed connections.
func (m *Manager) LeaveRoom() {
	m.mu.Lock()
	records := m.records
	m.records = make(map[string]*Record)
	m.peers = nil
	m.peerSet = make(map[string]struct{})
	local := m.local
	m.local = nil
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	cancel := m.cancel
	m.cancel = nil
	m.ctx = context.Background()
	m.roomID = ""
	m.joining = false
	m.session++
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, rec := range records {
		rec.close()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	m.signaler.Disconnect()
	if local != nil {
		local.Stop()
	}

	m.hookMu.Lock()
	hooks := append([]func(){}, m.leaveHooks...)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	slog.Info("left room", "peers", len(records))
	m.notify()
}

// CreatePeerFor returns the record for remoteID, creating it when absent.
// A new record gets a connection configured with discovered ICE servers,
// every local track, and handlers forwarding candidates, remote tracks and
// state changes.
func (m *Manager) CreatePeerFor(ctx context.Context, remoteID string) (*Record, error) {
	m.mu.Lock()
	if rec, ok := m.records[remoteID]; ok {
		m.mu.Unlock()
		return rec, nil
	}
	if m.roomID == "" {
		m.mu.Unlock()
		return nil, NewError("create peer", remoteID, ErrNotJoined)
	}
	session := m.session
	local := m.local
	m.mu.Unlock()

	servers := m.ice.ICEServers(ctx)
	conn, err := m.factory.NewConnection(webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: relayPolicy(servers, m.forceRelay),
	})
	if err != nil {
		return nil, NewError("create peer connection", remoteID, err)
	}

	if local != nil {
		for _, t := range local.Tracks() {
			if err := conn.AddTrack(t.Local()); err != nil {
				slog.Error("failed to attach local track", "peer", remoteID, "track", t.ID(), "err", err)
			}
		}
	}

	rec := newRecord(remoteID, conn)

	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		if err := m.signaler.SendICECandidate(*c, remoteID); err != nil {
			slog.Debug("failed to send ice candidate", "peer", remoteID, "err", err)
		}
	})
	conn.OnTrack(func(t RemoteTrack) {
		rec.addRemoteTrack(t)
		slog.Debug("remote track", "peer", remoteID, "kind", t.Kind().String(), "stream", t.StreamID())
		m.notify()
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			rec.setPhase(PhaseConnected)
		case webrtc.PeerConnectionStateClosed:
			rec.setPhase(PhaseClosed)
		}
		slog.Debug("peer connection state", "peer", remoteID, "state", s.String())
		m.notify()
	})

	m.mu.Lock()
	if existing, ok := m.records[remoteID]; ok {
		m.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	if m.session != session || m.roomID == "" {
		m.mu.Unlock()
		conn.Close()
		return nil, NewError("create peer", remoteID, ErrNotJoined)
	}
	m.records[remoteID] = rec
	m.mu.Unlock()

	m.notify()
	return rec, nil
}

func (m *Manager) handleMessage(msg signaling.Message) {
	switch msg := msg.(type) {
	case *signaling.Join:
		m.onJoin(msg)
	case *signaling.Joined:
		m.onJoined(msg)
	case *signaling.Offer:
		m.onOffer(msg)
	case *signaling.Answer:
		m.onAnswer(msg)
	case *signaling.ICECandidate:
		m.onICECandidate(msg)
	}
}

// onJoin offers to every newcomer. Existing members offer, newcomers answer.
func (m *Manager) onJoin(msg *signaling.Join) {
	if msg.From == m.userID || !m.addPeer(msg.From) {
		return
	}
	m.notify()

	rec, err := m.CreatePeerFor(m.sessionContext(), msg.From)
	if err != nil {
		slog.Error("failed to create peer", "peer", msg.From, "err", err)
		return
	}
	if err := m.sendOffer(rec, false); err != nil {
		slog.Error("failed to offer", "peer", msg.From, "err", err)
	}
}

func (m *Manager) onJoined(msg *signaling.Joined) {
	changed := false
	for _, p := range msg.Participants {
		if id := p.ID(); id != "" && id != m.userID && m.addPeer(id) {
			changed = true
		}
	}
	if changed {
		m.notify()
	}
}

func (m *Manager) onOffer(msg *signaling.Offer) {
	rec, err := m.CreatePeerFor(m.sessionContext(), msg.From)
	if err != nil {
		slog.Error("failed to create peer", "peer", msg.From, "err", err)
		return
	}

	if msg.Call {
		m.hookMu.Lock()
		admit := m.onIncoming
		m.hookMu.Unlock()

		if admit != nil {
			rec.hold(msg.SDP)
			if admit(msg.From) {
				return
			}
			if _, ok := rec.takeHeld(); !ok {
				return
			}
		}
	}

	if err := m.answer(rec, msg.SDP); err != nil {
		slog.Error("failed to answer", "peer", msg.From, "err", err)
	}
}

func (m *Manager) onAnswer(msg *signaling.Answer) {
	rec := m.Record(msg.From)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := rec.conn.SetRemoteDescription(msg.SDP); err != nil {
		slog.Error("failed to apply answer", "err", negotiationError("set remote description", msg.From, err))
		return
	}
	rec.remoteSet = true
	if err := rec.flushLocked(); err != nil {
		slog.Error("failed to apply buffered candidate", "err", err)
	}
}

func (m *Manager) onICECandidate(msg *signaling.ICECandidate) {
	rec := m.Record(msg.From)
	if rec == nil {
		var err error
		if rec, err = m.CreatePeerFor(m.sessionContext(), msg.From); err != nil {
			slog.Error("failed to create peer", "peer", msg.From, "err", err)
			return
		}
	}

	if err := rec.addCandidate(msg.Candidate); err != nil {
		slog.Error("failed to apply ice candidate", "err", err)
	}
}

// sendOffer creates, applies and sends an offer. Plain offers come with the
// data channel; call offers reuse whatever the connection already has.
func (m *Manager) sendOffer(rec *Record, call bool) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !call && rec.DataChannel() == nil {
		if _, err := m.createDataChannel(rec); err != nil {
			return err
		}
	}

	offer, err := rec.conn.CreateOffer()
	if err != nil {
		return negotiationError("create offer", rec.id, err)
	}
	if err := rec.conn.SetLocalDescription(offer); err != nil {
		return negotiationError("set local description", rec.id, err)
	}

	send := m.signaler.SendOffer
	if call {
		send = m.signaler.SendCallOffer
	}
	if err := send(offer, rec.id); err != nil {
		return NewError("send offer", rec.id, err)
	}

	rec.setPhase(PhaseNegotiating)
	return nil
}

// answer applies a remote offer, sends the answer and then flushes buffered
// candidates, all under the record lock.
func (m *Manager) answer(rec *Record, offer webrtc.SessionDescription) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return m.answerLocked(rec, offer)
}

func (m *Manager) answerLocked(rec *Record, offer webrtc.SessionDescription) error {
	rec.conn.OnDataChannel(func(dc DataChannel) {
		m.adoptDataChannel(rec, dc)
	})

	if err := rec.conn.SetRemoteDescription(offer); err != nil {
		return negotiationError("set remote description", rec.id, err)
	}
	rec.remoteSet = true
	rec.setPhase(PhaseNegotiating)

	// Buffered candidates go in after the answer, even when answering failed.
	err := m.sendAnswerLocked(rec)
	if ferr := rec.flushLocked(); err == nil {
		err = ferr
	}
	return err
}

func (m *Manager) sendAnswerLocked(rec *Record) error {
	answer, err := rec.conn.CreateAnswer()
	if err != nil {
		return negotiationError("create answer", rec.id, err)
	}
	if err := rec.conn.SetLocalDescription(answer); err != nil {
		return negotiationError("set local description", rec.id, err)
	}
	if err := m.signaler.SendAnswer(answer, rec.id); err != nil {
		return NewError("send answer", rec.id, err)
	}
	return nil
}

// StartCall sends a call offer to remoteID, creating the record if needed.
func (m *Manager) StartCall(ctx context.Context, remoteID string) error {
	rec, err := m.CreatePeerFor(ctx, remoteID)
	if err != nil {
		return err
	}
	return m.sendOffer(rec, true)
}

// AcceptCall answers the call offer held for remoteID. On failure the offer
// is held again so the call stays pending.
func (m *Manager) AcceptCall(ctx context.Context, remoteID string) error {
	rec := m.Record(remoteID)
	if rec == nil {
		return NewError("accept call", remoteID, ErrUnknownPeer)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	offer, ok := rec.takeHeldLocked()
	if !ok {
		return NewError("accept call", remoteID, ErrNoPendingOffer)
	}
	if err := ctx.Err(); err != nil {
		rec.heldOffer = &offer
		return NewError("accept call", remoteID, err)
	}
	if err := m.answerLocked(rec, offer); err != nil {
		rec.heldOffer = &offer
		return err
	}
	return nil
}

// DeclineCall drops the call offer held for remoteID without answering it.
func (m *Manager) DeclineCall(remoteID string) {
	if rec := m.Record(remoteID); rec != nil {
		rec.takeHeld()
	}
}
