package peer

import (
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabel names the per-peer application channel.
const DataChannelLabel = "code-sync"

// CreateDataChannelFor opens the reliable, ordered application channel on
// remoteID's connection. Only the offering side calls this; the answering
// side adopts the channel announced by the remote peer.
func (m *Manager) CreateDataChannelFor(remoteID string) (DataChannel, error) {
	rec := m.Record(remoteID)
	if rec == nil {
		return nil, NewError("create data channel", remoteID, ErrUnknownPeer)
	}
	return m.createDataChannel(rec)
}

func (m *Manager) createDataChannel(rec *Record) (DataChannel, error) {
	ordered := true
	dc, err := rec.conn.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, NewError("create data channel", rec.id, err)
	}
	m.adoptDataChannel(rec, dc)
	return dc, nil
}

func (m *Manager) adoptDataChannel(rec *Record, dc DataChannel) {
	rec.setDataChannel(dc)

	dc.OnOpen(func() {
		slog.Debug("data channel open", "peer", rec.id, "label", dc.Label())
		m.hookMu.Lock()
		hooks := append([]func(string){}, m.channelOpened...)
		m.hookMu.Unlock()
		for _, fn := range hooks {
			fn(rec.id)
		}
		m.notify()
	})
	dc.OnClose(func() {
		slog.Debug("data channel closed", "peer", rec.id)
		m.notify()
	})
	m.notify()
}

// SendData sends data to one peer when to is set, returning whether that
// peer's channel was open. With to empty it broadcasts to every open channel
// and reports whether at least one accepted the message.
func (m *Manager) SendData(data []byte, to string) bool {
	if to != "" {
		rec := m.Record(to)
		if rec == nil {
			return false
		}
		return sendIfOpen(rec, data)
	}

	sent := false
	for _, rec := range m.snapshot() {
		if sendIfOpen(rec, data) {
			sent = true
		}
	}
	return sent
}

func sendIfOpen(rec *Record, data []byte) bool {
	dc := rec.DataChannel()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	if err := dc.Send(data); err != nil {
		slog.Debug("data channel send failed", "peer", rec.id, "err", err)
		return false
	}
	return true
}

// OnData attaches fn to every channel open right now. Channels that open
// later are not wired; callers re-attach from OnChannelOpen.
func (m *Manager) OnData(fn func(from string, data []byte)) {
	for _, rec := range m.snapshot() {
		dc := rec.DataChannel()
		if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
			continue
		}
		id := rec.id
		dc.OnMessage(func(data []byte) {
			fn(id, data)
		})
	}
}

// OnPeerData attaches fn to remoteID's channel if it is open. It reports
// whether the channel was wired.
func (m *Manager) OnPeerData(remoteID string, fn func(from string, data []byte)) bool {
	rec := m.Record(remoteID)
	if rec == nil {
		return false
	}
	dc := rec.DataChannel()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	dc.OnMessage(func(data []byte) {
		fn(remoteID, data)
	})
	return true
}
