package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/peerlink/internal/media"
	"github.com/BioHazard786/peerlink/internal/signaling"
	"github.com/pion/webrtc/v4"
)

var errClosed = errors.New("connection closed")

type fakeDataChannel struct {
	mu        sync.Mutex
	label     string
	state     webrtc.DataChannelState
	sent      [][]byte
	listeners []func([]byte)
	onOpen    func()
	onClose   func()
}

func newFakeDataChannel(label string, state webrtc.DataChannelState) *fakeDataChannel {
	return &fakeDataChannel{label: label, state: state}
}

func (d *fakeDataChannel) Label() string { return d.label }

func (d *fakeDataChannel) ReadyState() webrtc.DataChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDataChannel) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != webrtc.DataChannelStateOpen {
		return errClosed
	}
	d.sent = append(d.sent, data)
	return nil
}

func (d *fakeDataChannel) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.sent...)
}

func (d *fakeDataChannel) OnOpen(fn func())  { d.mu.Lock(); d.onOpen = fn; d.mu.Unlock() }
func (d *fakeDataChannel) OnClose(fn func()) { d.mu.Lock(); d.onClose = fn; d.mu.Unlock() }

func (d *fakeDataChannel) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

func (d *fakeDataChannel) Close() error {
	d.mu.Lock()
	d.state = webrtc.DataChannelStateClosed
	d.mu.Unlock()
	return nil
}

func (d *fakeDataChannel) open() {
	d.mu.Lock()
	d.state = webrtc.DataChannelStateOpen
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDataChannel) deliver(data []byte) {
	d.mu.Lock()
	listeners := append([]func([]byte){}, d.listeners...)
	d.mu.Unlock()
	for _, fn := range listeners {
		fn(data)
	}
}

type fakeConn struct {
	mu sync.Mutex

	cfg         webrtc.Configuration
	tracks      []webrtc.TrackLocal
	channels    []*fakeDataChannel
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	state       webrtc.PeerConnectionState
	closed      bool
	failRemote  error
	failAnswer  error
	calls       []string
	trackGate   chan struct{}
	trackEntry  chan struct{}
	remoteGate  chan struct{}
	remoteEntry chan struct{}
	done        chan struct{}

	// tracks attached when the answer was created
	answerTracks int

	onICE   func(*webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(RemoteTrack)
	onDC    func(DataChannel)
}

func (c *fakeConn) record(call string) {
	c.calls = append(c.calls, call)
}

func (c *fakeConn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	gate, entry := c.trackGate, c.trackEntry
	c.trackEntry = nil
	c.mu.Unlock()

	if entry != nil {
		close(entry)
	}
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return nil
}

func (c *fakeConn) CreateDataChannel(label string, _ *webrtc.DataChannelInit) (DataChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dc := newFakeDataChannel(label, webrtc.DataChannelStateConnecting)
	c.channels = append(c.channels, dc)
	return dc, nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, errClosed
	}
	c.record("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, errClosed
	}
	if c.failAnswer != nil {
		return webrtc.SessionDescription{}, c.failAnswer
	}
	c.record("create-answer")
	c.answerTracks = len(c.tracks)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	c.record("set-local")
	c.local = &desc
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	gate, entry := c.remoteGate, c.remoteEntry
	c.mu.Unlock()

	if entry != nil {
		close(entry)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-c.doneCh():
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	if c.failRemote != nil {
		return c.failRemote
	}
	c.record("set-remote")
	c.remote = &desc
	return nil
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return fmt.Errorf("candidate %s before remote description", cand.Candidate)
	}
	c.record("add-ice:" + cand.Candidate)
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, cand := range c.candidates {
		out = append(out, cand.Candidate)
	}
	return out
}

func (c *fakeConn) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == webrtc.PeerConnectionStateUnknown {
		return webrtc.PeerConnectionStateNew
	}
	return c.state
}

func (c *fakeConn) setState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *fakeConn) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(fn func(RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnDataChannel(fn func(DataChannel)) {
	c.mu.Lock()
	c.onDC = fn
	c.mu.Unlock()
}

func (c *fakeConn) emitCandidate(cand string) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	fn(&webrtc.ICECandidateInit{Candidate: cand})
}

func (c *fakeConn) emitTrack(t RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	fn(t)
}

func (c *fakeConn) emitDataChannel(dc DataChannel) {
	c.mu.Lock()
	fn := c.onDC
	c.mu.Unlock()
	fn(dc)
}

func (c *fakeConn) doneCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

func (c *fakeConn) Close() error {
	done := c.doneCh()
	c.mu.Lock()
	if !c.closed {
		close(done)
	}
	c.closed = true
	c.state = webrtc.PeerConnectionStateClosed
	for _, dc := range c.channels {
		dc.Close()
	}
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) AnswerTracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answerTracks
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	// prepare runs on every new connection before it is handed out.
	prepare func(*fakeConn)
}

func (f *fakeFactory) NewConnection(cfg webrtc.Configuration) (Connection, error) {
	c := &fakeConn{cfg: cfg}
	if f.prepare != nil {
		f.prepare(c)
	}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) Conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type sentMessage struct {
	kind string
	to   string
	sdp  webrtc.SessionDescription
	ice  webrtc.ICECandidateInit
}

type fakeSignaler struct {
	mu         sync.Mutex
	connects   int
	tokens     []string
	connectErr error
	handlers   map[int]signaling.Handler
	nextID     int
	sent       []sentMessage
	joins      []string
	disconnect int
	done       chan struct{}
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{handlers: make(map[int]signaling.Handler)}
}

func (s *fakeSignaler) Connect(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	s.tokens = append(s.tokens, token)
	if s.connectErr == nil {
		s.done = make(chan struct{})
	}
	return s.connectErr
}

func (s *fakeSignaler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}

// drop ends the connection as if the server went away.
func (s *fakeSignaler) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeDoneLocked()
}

func (s *fakeSignaler) closeDoneLocked() {
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *fakeSignaler) AddMessageHandler(fn signaling.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.handlers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

func (s *fakeSignaler) deliver(msg signaling.Message) {
	s.mu.Lock()
	var handlers []signaling.Handler
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (s *fakeSignaler) HandlerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func (s *fakeSignaler) add(m sentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSignaler) SendJoin(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, roomID)
	return nil
}

func (s *fakeSignaler) SendOffer(sdp webrtc.SessionDescription, to string) error {
	return s.add(sentMessage{kind: "offer", to: to, sdp: sdp})
}

func (s *fakeSignaler) SendCallOffer(sdp webrtc.SessionDescription, to string) error {
	return s.add(sentMessage{kind: "call-offer", to: to, sdp: sdp})
}

func (s *fakeSignaler) SendAnswer(sdp webrtc.SessionDescription, to string) error {
	return s.add(sentMessage{kind: "answer", to: to, sdp: sdp})
}

func (s *fakeSignaler) SendICECandidate(c webrtc.ICECandidateInit, to string) error {
	return s.add(sentMessage{kind: "ice", to: to, ice: c})
}

func (s *fakeSignaler) Disconnect() {
	s.mu.Lock()
	s.disconnect++
	s.closeDoneLocked()
	s.mu.Unlock()
}

func (s *fakeSignaler) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnect
}

func (s *fakeSignaler) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func (s *fakeSignaler) SentOfKind(kind string) []sentMessage {
	var out []sentMessage
	for _, m := range s.Sent() {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type fakeRemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) StreamID() string          { return t.stream }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

type failingTokens struct{}

func (failingTokens) Token(context.Context, string, string) (string, error) {
	return "", signaling.ErrToken
}

type harness struct {
	mgr     *Manager
	sig     *fakeSignaler
	factory *fakeFactory
}

func newHarness(opts ...func(*Options)) *harness {
	h := &harness{sig: newFakeSignaler(), factory: &fakeFactory{}}
	o := Options{
		UserID:   "A",
		Signaler: h.sig,
		Factory:  h.factory,
		Media:    media.SyntheticSource{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.mgr = NewManager(o)
	return h
}

func (h *harness) conn(id string) *fakeConn {
	rec := h.mgr.Record(id)
	if rec == nil {
		return nil
	}
	return rec.conn.(*fakeConn)
}

func offerFrom(from string, call bool) *signaling.Offer {
	return &signaling.Offer{
		From: from,
		To:   "A",
		SDP:  webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"},
		Call: call,
	}
}

func candidateFrom(from, cand string) *signaling.ICECandidate {
	return &signaling.ICECandidate{From: from, To: "A", Candidate: webrtc.ICECandidateInit{Candidate: cand}}
}
