// Package call tracks which peers are calling in and which are in a call,
// independently of how the underlying connections are negotiated.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/BioHazard786/peerlink/internal/media"
)

// Negotiator drives the call-flavoured offers underneath the controller.
type Negotiator interface {
	StartCall(ctx context.Context, peerID string) error
	AcceptCall(ctx context.Context, peerID string) error
	DeclineCall(peerID string)
	LocalStream() *media.Stream
}

// Option configures a Controller.
type Option func(*Controller)

// WithRingtone sets how the ringtone is built. It is built on the first
// incoming call and reused afterwards.
func WithRingtone(build func() Alert) Option {
	return func(c *Controller) { c.newRingtone = build }
}

// WithTitleFlasher sets the alert that flashes the window title.
func WithTitleFlasher(a Alert) Option {
	return func(c *Controller) { c.flasher = a }
}

// Controller holds the queue of incoming calls and the set of peers in a
// call. A peer is never in both.
type Controller struct {
	neg         Negotiator
	newRingtone func() Alert
	flasher     Alert

	mu       sync.Mutex
	incoming []string
	inCall   map[string]struct{}
	ringtone Alert
	alerting bool

	listenMu  sync.Mutex
	listeners []func()
}

func New(neg Negotiator, opts ...Option) *Controller {
	c := &Controller{
		neg:    neg,
		inCall: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to run after every queue or membership change.
func (c *Controller) OnChange(fn func()) {
	c.listenMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenMu.Unlock()
}

func (c *Controller) notify() {
	c.listenMu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.listenMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Incoming returns the callers awaiting a decision, oldest first.
func (c *Controller) Incoming() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.incoming...)
}

// InCall returns the peers currently in a call, sorted.
func (c *Controller) InCall() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.inCall))
	for id := range c.inCall {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Controller) IsInCall(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inCall[peerID]
	return ok
}

// Enqueue is the admission hook for call offers. It reports whether the
// caller was queued; peers already in a call are not.
func (c *Controller) Enqueue(peerID string) bool {
	c.mu.Lock()
	if _, ok := c.inCall[peerID]; ok {
		c.mu.Unlock()
		return false
	}
	if indexOf(c.incoming, peerID) < 0 {
		c.incoming = append(c.incoming, peerID)
	}
	c.updateAlertsLocked()
	c.mu.Unlock()

	slog.Info("incoming call", "peer", peerID)
	c.notify()
	return true
}

// StartCall offers a call to every target. Targets that were offered
// successfully join the call; failures are logged and returned together.
func (c *Controller) StartCall(ctx context.Context, targets []string) error {
	if len(targets) == 0 {
		return nil
	}

	var errs []error
	for _, id := range targets {
		if err := c.neg.StartCall(ctx, id); err != nil {
			slog.Error("failed to start call", "peer", id, "err", err)
			errs = append(errs, err)
			continue
		}

		c.mu.Lock()
		c.inCall[id] = struct{}{}
		c.incoming = remove(c.incoming, id)
		c.updateAlertsLocked()
		c.mu.Unlock()
	}

	c.notify()
	return errors.Join(errs...)
}

// AcceptCall answers peerID's call. On failure the caller stays queued.
func (c *Controller) AcceptCall(ctx context.Context, peerID string) error {
	c.mu.Lock()
	queued := indexOf(c.incoming, peerID) >= 0
	c.mu.Unlock()
	if !queued {
		return ErrNoSuchCall
	}

	if err := c.neg.AcceptCall(ctx, peerID); err != nil {
		slog.Error("failed to accept call", "peer", peerID, "err", err)
		return err
	}

	c.mu.Lock()
	c.incoming = remove(c.incoming, peerID)
	c.inCall[peerID] = struct{}{}
	c.updateAlertsLocked()
	c.mu.Unlock()

	slog.Info("call accepted", "peer", peerID)
	c.notify()
	return nil
}

// DeclineCall removes peerID from the queue without answering.
func (c *Controller) DeclineCall(peerID string) {
	c.mu.Lock()
	if indexOf(c.incoming, peerID) < 0 {
		c.mu.Unlock()
		return
	}
	c.incoming = remove(c.incoming, peerID)
	c.updateAlertsLocked()
	c.mu.Unlock()

	c.neg.DeclineCall(peerID)
	slog.Info("call declined", "peer", peerID)
	c.notify()
}

// AcceptAll accepts the callers queued right now, one after another, so
// that only one negotiation touches the local stream at a time.
func (c *Controller) AcceptAll(ctx context.Context) error {
	var errs []error
	for _, id := range c.Incoming() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.AcceptCall(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeclineAll declines the callers queued right now.
func (c *Controller) DeclineAll() {
	for _, id := range c.Incoming() {
		c.DeclineCall(id)
	}
}

// ToggleMic flips the enabled flag of each local audio track and reports
// whether the mic is now muted, meaning no audio track is enabled.
// Connections are not renegotiated.
func (c *Controller) ToggleMic() bool {
	stream := c.neg.LocalStream()
	if stream == nil {
		return true
	}

	muted := true
	for _, t := range stream.AudioTracks() {
		t.SetEnabled(!t.Enabled())
		if t.Enabled() {
			muted = false
		}
	}

	slog.Info("microphone toggled", "muted", muted)
	c.notify()
	return muted
}

// Muted reports whether no local audio track is enabled.
func (c *Controller) Muted() bool {
	stream := c.neg.LocalStream()
	if stream == nil {
		return true
	}
	for _, t := range stream.AudioTracks() {
		if t.Enabled() {
			return false
		}
	}
	return true
}

// Reset clears all call state and silences alerts.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.incoming = nil
	c.inCall = make(map[string]struct{})
	c.updateAlertsLocked()
	c.mu.Unlock()
	c.notify()
}

// updateAlertsLocked starts the alerts when the queue becomes non-empty and
// stops them when it drains. Alert failures never reach the caller.
func (c *Controller) updateAlertsLocked() {
	want := len(c.incoming) > 0
	if want == c.alerting {
		return
	}
	c.alerting = want

	if want {
		if c.ringtone == nil && c.newRingtone != nil {
			c.ringtone = c.newRingtone()
		}
		for _, a := range c.alerts() {
			if err := a.Start(); err != nil {
				slog.Debug("alert failed to start", "err", err)
			}
		}
		return
	}

	for _, a := range c.alerts() {
		a.Stop()
	}
}

func (c *Controller) alerts() []Alert {
	var out []Alert
	if c.ringtone != nil {
		out = append(out, c.ringtone)
	}
	if c.flasher != nil {
		out = append(out, c.flasher)
	}
	return out
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func remove(ids []string, id string) []string {
	i := indexOf(ids, id)
	if i < 0 {
		return ids
	}
	return append(ids[:i:i], ids[i+1:]...)
}
