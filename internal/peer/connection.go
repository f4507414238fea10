package peer

import (
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Connection is the part of a peer connection the manager drives.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateDataChannel(label string, init *webrtc.DataChannelInit) (DataChannel, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	ConnectionState() webrtc.PeerConnectionState

	OnICECandidate(fn func(*webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(RemoteTrack))
	OnDataChannel(fn func(DataChannel))

	Close() error
}

// DataChannel is an application data channel.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
	OnOpen(fn func())
	OnClose(fn func())
	// OnMessage adds fn to the message listeners.
	OnMessage(fn func(data []byte))
	Close() error
}

// RemoteTrack describes an inbound media track. *webrtc.TrackRemote implements it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// ConnectionFactory builds connections for new peer records.
type ConnectionFactory interface {
	NewConnection(cfg webrtc.Configuration) (Connection, error)
}

// FactoryOptions tune the pion API shared by every connection.
type FactoryOptions struct {
	// IncludeLoopback gathers loopback candidates, for same-host sessions.
	IncludeLoopback bool
	// DisconnectedTimeout and FailedTimeout default to 30s and 120s.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
}

// PionFactory creates pion peer connections with the default codecs and
// interceptors registered.
type PionFactory struct {
	api *webrtc.API
}

func NewPionFactory(opts FactoryOptions) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	disconnected, failed := opts.DisconnectedTimeout, opts.FailedTimeout
	if disconnected == 0 {
		disconnected = 30 * time.Second
	}
	if failed == 0 {
		failed = 120 * time.Second
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(disconnected, failed, 2*time.Second)
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
	}, nil
}

func (f *PionFactory) NewConnection(cfg webrtc.Configuration) (Connection, error) {
	pc, err := f.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &pionConnection{pc: pc}, nil
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func (c *pionConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}

	// RTCP has to be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *pionConnection) CreateDataChannel(label string, init *webrtc.DataChannelInit) (DataChannel, error) {
	dc, err := c.pc.CreateDataChannel(label, init)
	if err != nil {
		return nil, err
	}
	return newPionDataChannel(dc), nil
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *pionConnection) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

func (c *pionConnection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			fn(nil)
			return
		}
		init := cand.ToJSON()
		fn(&init)
	})
}

func (c *pionConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *pionConnection) OnTrack(fn func(RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)

		// Nothing renders remote media here; keep the jitter buffers drained.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})
}

func (c *pionConnection) OnDataChannel(fn func(DataChannel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(newPionDataChannel(dc))
	})
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

// pionDataChannel fans pion's single message callback out to any number of
// listeners.
type pionDataChannel struct {
	dc *webrtc.DataChannel

	mu        sync.Mutex
	listeners []func([]byte)
}

func newPionDataChannel(dc *webrtc.DataChannel) *pionDataChannel {
	d := &pionDataChannel{dc: dc}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.mu.Lock()
		listeners := make([]func([]byte), len(d.listeners))
		copy(listeners, d.listeners)
		d.mu.Unlock()

		for _, fn := range listeners {
			fn(msg.Data)
		}
	})
	return d
}

func (d *pionDataChannel) Label() string                       { return d.dc.Label() }
func (d *pionDataChannel) ReadyState() webrtc.DataChannelState { return d.dc.ReadyState() }
func (d *pionDataChannel) Send(data []byte) error              { return d.dc.Send(data) }
func (d *pionDataChannel) OnOpen(fn func())                    { d.dc.OnOpen(fn) }
func (d *pionDataChannel) OnClose(fn func())                   { d.dc.OnClose(fn) }
func (d *pionDataChannel) Close() error                        { return d.dc.Close() }

func (d *pionDataChannel) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}
