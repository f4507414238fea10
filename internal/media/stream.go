package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Constraints select which kinds of media to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// Source acquires local media, like getUserMedia in a browser.
type Source interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}

// Stream groups the local tracks of one session.
type Stream struct {
	id     string
	tracks []*Track

	stopOnce sync.Once
	onStop   []func()
}

// NewStream groups tracks under id.
func NewStream(id string, tracks ...*Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns every track in the stream.
func (s *Stream) Tracks() []*Track {
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Stream) AudioTracks() []*Track { return s.byKind(webrtc.RTPCodecTypeAudio) }

func (s *Stream) VideoTracks() []*Track { return s.byKind(webrtc.RTPCodecTypeVideo) }

func (s *Stream) byKind(kind webrtc.RTPCodecType) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track and releases whatever produces samples for them.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		for _, fn := range s.onStop {
			fn()
		}
	})
}
