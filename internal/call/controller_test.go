package call

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/peerlink/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNegotiator struct {
	mu       sync.Mutex
	events   []string
	active   int
	overlap  bool
	failFor  map[string]error
	declined []string
	stream   *media.Stream
}

func (n *fakeNegotiator) StartCall(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "start:"+id)
	return n.failFor[id]
}

func (n *fakeNegotiator) AcceptCall(_ context.Context, id string) error {
	n.mu.Lock()
	n.active++
	if n.active > 1 {
		n.overlap = true
	}
	n.events = append(n.events, "begin:"+id)
	n.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.active--
	n.events = append(n.events, "end:"+id)
	return n.failFor[id]
}

func (n *fakeNegotiator) DeclineCall(id string) {
	n.mu.Lock()
	n.declined = append(n.declined, id)
	n.mu.Unlock()
}

func (n *fakeNegotiator) LocalStream() *media.Stream { return n.stream }

func (n *fakeNegotiator) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type countingAlert struct {
	mu            sync.Mutex
	starts, stops int
	err           error
}

func (a *countingAlert) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
	return a.err
}

func (a *countingAlert) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
}

func (a *countingAlert) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts, a.stops
}

func TestAcceptAllIsSequential(t *testing.T) {
	neg := &fakeNegotiator{}
	c := New(neg)
	c.Enqueue("C1")
	c.Enqueue("C2")

	require.NoError(t, c.AcceptAll(context.Background()))

	assert.Equal(t, []string{"begin:C1", "end:C1", "begin:C2", "end:C2"}, neg.Events())
	assert.False(t, neg.overlap)
	assert.Empty(t, c.Incoming())
	assert.Equal(t, []string{"C1", "C2"}, c.InCall())
}

func TestAcceptFailureLeavesCallerQueued(t *testing.T) {
	neg := &fakeNegotiator{failFor: map[string]error{"C1": errors.New("boom")}}
	c := New(neg)
	c.Enqueue("C1")
	c.Enqueue("C2")

	err := c.AcceptAll(context.Background())
	require.Error(t, err)

	assert.Equal(t, []string{"C1"}, c.Incoming())
	assert.Equal(t, []string{"C2"}, c.InCall())
}

func TestAcceptUnknownCaller(t *testing.T) {
	c := New(&fakeNegotiator{})
	require.ErrorIs(t, c.AcceptCall(context.Background(), "X"), ErrNoSuchCall)
}

func TestDeclineDoesNotTouchOthers(t *testing.T) {
	neg := &fakeNegotiator{}
	c := New(neg)
	c.Enqueue("X")
	c.Enqueue("Y")
	require.NoError(t, c.AcceptCall(context.Background(), "Y"))
	c.Enqueue("Z")

	c.DeclineCall("X")

	assert.Equal(t, []string{"Z"}, c.Incoming())
	assert.Equal(t, []string{"Y"}, c.InCall())
	assert.Equal(t, []string{"X"}, neg.declined)

	// declining someone not queued is a no-op
	c.DeclineCall("Y")
	assert.True(t, c.IsInCall("Y"))
	assert.Equal(t, []string{"X"}, neg.declined)
}

func TestDeclineAll(t *testing.T) {
	neg := &fakeNegotiator{}
	c := New(neg)
	c.Enqueue("A")
	c.Enqueue("B")

	c.DeclineAll()
	assert.Empty(t, c.Incoming())
	assert.Equal(t, []string{"A", "B"}, neg.declined)
}

func TestEnqueueIsUniqueAndSkipsMembers(t *testing.T) {
	c := New(&fakeNegotiator{})

	assert.True(t, c.Enqueue("A"))
	assert.True(t, c.Enqueue("A"))
	assert.Equal(t, []string{"A"}, c.Incoming())

	require.NoError(t, c.AcceptCall(context.Background(), "A"))
	assert.False(t, c.Enqueue("A"), "members renegotiate without asking again")
	assert.Empty(t, c.Incoming())
}

func TestStartCall(t *testing.T) {
	neg := &fakeNegotiator{failFor: map[string]error{"C": errors.New("no route")}}
	c := New(neg)

	require.NoError(t, c.StartCall(context.Background(), nil))
	assert.Empty(t, neg.Events())

	err := c.StartCall(context.Background(), []string{"B", "C"})
	require.Error(t, err)
	assert.Equal(t, []string{"start:B", "start:C"}, neg.Events())
	assert.Equal(t, []string{"B"}, c.InCall())
}

func TestAlertsFollowQueueTransitions(t *testing.T) {
	ring := &countingAlert{err: errors.New("no audio device")}
	flash := &countingAlert{}
	builds := 0

	c := New(&fakeNegotiator{},
		WithRingtone(func() Alert { builds++; return ring }),
		WithTitleFlasher(flash),
	)

	c.Enqueue("A")
	c.Enqueue("B")
	starts, _ := ring.counts()
	assert.Equal(t, 1, starts, "only the empty to non-empty transition starts alerts")

	c.DeclineCall("A")
	_, stops := ring.counts()
	assert.Equal(t, 0, stops)

	c.DeclineCall("B")
	_, stops = ring.counts()
	assert.Equal(t, 1, stops)
	fs, fst := flash.counts()
	assert.Equal(t, 1, fs)
	assert.Equal(t, 1, fst)

	c.Enqueue("C")
	c.Reset()
	starts, stops = ring.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)
	assert.Equal(t, 1, builds, "ringtone is built once")
	assert.Empty(t, c.Incoming())
	assert.Empty(t, c.InCall())
}

func TestToggleMic(t *testing.T) {
	stream, err := media.SyntheticSource{}.GetUserMedia(context.Background(), media.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer stream.Stop()

	c := New(&fakeNegotiator{stream: stream})
	assert.False(t, c.Muted())

	assert.True(t, c.ToggleMic())
	assert.False(t, stream.AudioTracks()[0].Enabled())
	assert.True(t, stream.VideoTracks()[0].Enabled(), "video is untouched")
	assert.False(t, stream.AudioTracks()[0].Stopped())

	assert.False(t, c.ToggleMic())
	assert.True(t, stream.AudioTracks()[0].Enabled())
}

func TestToggleMicFlipsEachTrack(t *testing.T) {
	opus := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	mic, err := media.NewTrack(opus, "mic", "local")
	require.NoError(t, err)
	line, err := media.NewTrack(opus, "line", "local")
	require.NoError(t, err)
	line.SetEnabled(false)

	c := New(&fakeNegotiator{stream: media.NewStream("local", mic, line)})

	assert.False(t, c.ToggleMic(), "line-in is now live")
	assert.False(t, mic.Enabled())
	assert.True(t, line.Enabled())

	assert.False(t, c.ToggleMic())
	assert.True(t, mic.Enabled())
	assert.False(t, line.Enabled())
	assert.False(t, c.Muted())
}

func TestToggleMicWithoutStream(t *testing.T) {
	c := New(&fakeNegotiator{})
	assert.True(t, c.ToggleMic())
	assert.True(t, c.Muted())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRingtoneRingsUntilStopped(t *testing.T) {
	out := &syncBuffer{}
	r := NewRingtone(out, 5*time.Millisecond)

	require.NoError(t, r.Start())
	require.NoError(t, r.Start())
	require.Eventually(t, func() bool { return strings.Count(out.String(), "\a") >= 3 }, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
	n := strings.Count(out.String(), "\a")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, strings.Count(out.String(), "\a"))
}

func TestTitleFlasherOnlyWhileHidden(t *testing.T) {
	out := &syncBuffer{}
	f := NewTitleFlasher(out, "peerlink", "incoming call", 5*time.Millisecond)

	require.NoError(t, f.Start())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, out.String(), "visible terminals are left alone")

	f.SetHidden(true)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "\x1b]0;incoming call\a")
	}, time.Second, 5*time.Millisecond)

	f.Stop()
	f.SetHidden(false)
	assert.True(t, strings.HasSuffix(out.String(), "\x1b]0;peerlink\a"))
}
