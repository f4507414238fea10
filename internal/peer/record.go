package peer

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Phase is the lifecycle position of a peer record.
type Phase int32

const (
	PhaseCreated Phase = iota
	PhaseNegotiating
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RemoteStream is the media received from one peer.
type RemoteStream struct {
	ID     string
	Tracks []RemoteTrack
}

// Record is everything known about one remote peer. It exists from first
// contact until LeaveRoom, and its candidate buffer lives and dies with it.
type Record struct {
	id   string
	conn Connection

	phase atomic.Int32

	// mu serializes negotiation: remote description, answer and buffer flush.
	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	heldOffer *webrtc.SessionDescription

	stateMu      sync.Mutex
	dataChannel  DataChannel
	remoteStream *RemoteStream
}

func newRecord(id string, conn Connection) *Record {
	r := &Record{id: id, conn: conn}
	r.phase.Store(int32(PhaseCreated))
	return r
}

func (r *Record) ID() string { return r.id }

func (r *Record) Phase() Phase { return Phase(r.phase.Load()) }

func (r *Record) setPhase(p Phase) {
	// closed is terminal
	for {
		cur := r.phase.Load()
		if Phase(cur) == PhaseClosed {
			return
		}
		if r.phase.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}

// Pending returns a copy of the buffered candidates.
func (r *Record) Pending() []webrtc.ICECandidateInit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(r.pending))
	copy(out, r.pending)
	return out
}

// RemoteDescriptionSet reports whether candidates are applied immediately.
func (r *Record) RemoteDescriptionSet() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remoteSet
}

// addCandidate applies c now when the remote description is set and buffers
// it otherwise.
func (r *Record) addCandidate(c webrtc.ICECandidateInit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.remoteSet {
		r.pending = append(r.pending, c)
		return nil
	}
	if err := r.conn.AddICECandidate(c); err != nil {
		return negotiationError("add ice candidate", r.id, err)
	}
	return nil
}

// flushLocked applies every buffered candidate in arrival order. r.mu must
// be held and the remote description set.
func (r *Record) flushLocked() error {
	pending := r.pending
	r.pending = nil

	var firstErr error
	for _, c := range pending {
		if err := r.conn.AddICECandidate(c); err != nil && firstErr == nil {
			firstErr = negotiationError("add buffered ice candidate", r.id, err)
		}
	}
	return firstErr
}

func (r *Record) hold(offer webrtc.SessionDescription) {
	r.mu.Lock()
	r.heldOffer = &offer
	r.mu.Unlock()
}

func (r *Record) takeHeld() (webrtc.SessionDescription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.takeHeldLocked()
}

func (r *Record) takeHeldLocked() (webrtc.SessionDescription, bool) {
	if r.heldOffer == nil {
		return webrtc.SessionDescription{}, false
	}
	offer := *r.heldOffer
	r.heldOffer = nil
	return offer, true
}

// HasHeldOffer reports whether a call offer awaits admission.
func (r *Record) HasHeldOffer() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heldOffer != nil
}

func (r *Record) DataChannel() DataChannel {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.dataChannel
}

func (r *Record) setDataChannel(dc DataChannel) {
	r.stateMu.Lock()
	r.dataChannel = dc
	r.stateMu.Unlock()
}

// addRemoteTrack groups tracks of the same stream; a new stream id replaces
// what was stored before.
func (r *Record) addRemoteTrack(t RemoteTrack) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if r.remoteStream != nil && r.remoteStream.ID == t.StreamID() {
		r.remoteStream.Tracks = append(r.remoteStream.Tracks, t)
		return
	}
	r.remoteStream = &RemoteStream{ID: t.StreamID(), Tracks: []RemoteTrack{t}}
}

func (r *Record) RemoteStream() *RemoteStream {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.remoteStream == nil {
		return nil
	}
	return &RemoteStream{
		ID:     r.remoteStream.ID,
		Tracks: append([]RemoteTrack(nil), r.remoteStream.Tracks...),
	}
}

// close tears the record down. The connection is closed before any lock is
// taken so that a negotiation holding r.mu fails fast and releases it.
func (r *Record) close() {
	r.setPhase(PhaseClosed)

	if dc := r.DataChannel(); dc != nil {
		dc.Close()
	}
	r.conn.Close()

	r.mu.Lock()
	r.pending = nil
	r.heldOffer = nil
	r.remoteSet = false
	r.mu.Unlock()

	r.stateMu.Lock()
	r.dataChannel = nil
	r.remoteStream = nil
	r.stateMu.Unlock()
}
