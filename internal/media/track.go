package media

import (
	"errors"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrTrackStopped     = errors.New("track stopped")
	ErrPermissionDenied = errors.New("permission denied")
)

// Track is a local media track shared by every peer connection of a session.
// Disabling a track keeps it negotiated but stops samples from being sent.
type Track struct {
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

// NewTrack creates an enabled track for codec.
func NewTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{local: local}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) StreamID() string          { return t.local.StreamID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.local.Kind() }

// Local returns the pion track to attach to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

func (t *Track) Stopped() bool { return t.stopped.Load() }

// Stop permanently ends the track.
func (t *Track) Stop() {
	t.stopped.Store(true)
	t.enabled.Store(false)
}

// WriteSample forwards s to every bound connection. Samples written while the
// track is disabled are dropped silently.
func (t *Track) WriteSample(s pmedia.Sample) error {
	if t.stopped.Load() {
		return ErrTrackStopped
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}
