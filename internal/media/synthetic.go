package media

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

const opusFrame = 20 * time.Millisecond

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource produces Opus and VP8 tracks without capture hardware.
// The audio track carries silence so that remote peers see live media.
type SyntheticSource struct {
	// Deny makes GetUserMedia fail as if the user refused access.
	Deny bool
}

func (s SyntheticSource) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if s.Deny {
		return nil, ErrPermissionDenied
	}
	if !c.Audio && !c.Video {
		return nil, errors.New("no media kinds requested")
	}

	streamID := uuid.NewString()
	var tracks []*Track

	if c.Audio {
		t, err := NewTrack(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, "audio-"+streamID[:8], streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}

	if c.Video {
		t, err := NewTrack(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video-"+streamID[:8], streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}

	stream := NewStream(streamID, tracks...)

	if audio := stream.AudioTracks(); len(audio) > 0 {
		pumpCtx, cancel := context.WithCancel(context.Background())
		stream.onStop = append(stream.onStop, cancel)
		go pumpSilence(pumpCtx, audio[0])
	}

	return stream, nil
}

func pumpSilence(ctx context.Context, t *Track) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := t.WriteSample(pmedia.Sample{Data: opusSilence, Duration: opusFrame})
			if errors.Is(err, ErrTrackStopped) {
				return
			}
			if err != nil {
				slog.Debug("audio sample dropped", "track", t.ID(), "err", err)
			}
		}
	}
}
