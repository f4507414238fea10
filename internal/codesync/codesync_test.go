package codesync

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to   string
	data []byte
}

// loopback delivers to sessions registered by id, like the peer manager's
// SendData does for open channels.
type loopback struct {
	self  string
	mu    sync.Mutex
	peers map[string]*Session
	log   []sent
}

func (l *loopback) SendData(data []byte, to string) bool {
	l.mu.Lock()
	l.log = append(l.log, sent{to: to, data: data})
	var targets []*Session
	for id, s := range l.peers {
		if to == "" || id == to {
			targets = append(targets, s)
		}
	}
	l.mu.Unlock()

	for _, s := range targets {
		s.HandleData(l.self, data)
	}
	return len(targets) > 0
}

func (l *loopback) sent() []sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sent(nil), l.log...)
}

func pair() (*Session, *Session, *loopback, *loopback) {
	la := &loopback{self: "A", peers: map[string]*Session{}}
	lb := &loopback{self: "B", peers: map[string]*Session{}}
	a := NewSession("A", la)
	b := NewSession("B", lb)
	la.peers["B"] = b
	lb.peers["A"] = a
	return a, b, la, lb
}

func TestDocumentLastWriterWins(t *testing.T) {
	var d Document

	u, changed := d.Edit("A", "one")
	require.True(t, changed)
	assert.Equal(t, uint64(1), u.Version)

	assert.False(t, d.Apply(Update{Content: "old", Version: 0, Author: "Z"}))
	assert.True(t, d.Apply(Update{Content: "tie", Version: 1, Author: "B"}), "B sorts after A")
	assert.False(t, d.Apply(Update{Content: "tie again", Version: 1, Author: "A"}))
	assert.True(t, d.Apply(Update{Content: "two", Version: 2, Author: "A"}))
	assert.Equal(t, "two", d.Content())

	_, changed = d.Edit("A", "two")
	assert.False(t, changed)
}

func TestPublishReachesPeer(t *testing.T) {
	a, b, _, _ := pair()

	var got []Update
	b.OnRemoteUpdate(func(from string, u Update) {
		assert.Equal(t, "A", from)
		got = append(got, u)
	})

	_, err := a.Publish("package main")
	require.NoError(t, err)

	assert.Equal(t, "package main", b.Snapshot().Content)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Author)
}

func TestPublishWithoutPeers(t *testing.T) {
	s := NewSession("A", &loopback{self: "A"})
	u, err := s.Publish("x")
	require.ErrorIs(t, err, ErrUndelivered)
	assert.Equal(t, "x", s.Snapshot().Content)
	assert.Equal(t, uint64(1), u.Version)
}

func TestSyncRequestAnswersRequesterOnly(t *testing.T) {
	a, b, la, _ := pair()
	la.peers["C"] = NewSession("C", &loopback{self: "C"})
	a.Load("shared")

	require.NoError(t, b.RequestSync("A"))

	assert.Equal(t, "shared", b.Snapshot().Content)
	log := la.sent()
	require.Len(t, log, 1)
	assert.Equal(t, "B", log[0].to)
}

func TestSyncRequestOnEmptyDocument(t *testing.T) {
	_, b, la, _ := pair()
	require.NoError(t, b.RequestSync("A"))
	assert.Empty(t, la.sent())
}

func TestHandleDataRejectsGarbage(t *testing.T) {
	s := NewSession("A", &loopback{self: "A"})
	require.Error(t, s.HandleData("B", []byte{0xc1}))

	data, err := Encode("cursor", nil)
	require.NoError(t, err)
	require.ErrorIs(t, s.HandleData("B", data), ErrUnknownType)
}

func TestWatcherMirrorsFile(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.go")
	pathB := filepath.Join(dir, "b.go")
	require.NoError(t, os.WriteFile(pathA, []byte("v0"), 0o644))

	a, b, _, _ := pair()
	wa, err := Watch(pathA, a)
	require.NoError(t, err)
	defer wa.Close()
	wb, err := Watch(pathB, b)
	require.NoError(t, err)
	defer wb.Close()

	assert.Equal(t, "v0", a.Snapshot().Content)
	_, err = os.Stat(pathB)
	require.NoError(t, err, "missing file is created")

	require.NoError(t, os.WriteFile(pathA, []byte("v1"), 0o644))
	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(pathB)
		return string(data) == "v1"
	}, 5*time.Second, 20*time.Millisecond)

	// the write-back must not bounce to A as a new edit
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "A", a.Snapshot().Author)
	assert.Equal(t, a.Snapshot().Version, b.Snapshot().Version)
}
