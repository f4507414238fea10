package call

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Alert is an attention side effect that runs while calls are waiting.
type Alert interface {
	Start() error
	Stop()
}

// Ringtone rings the terminal bell on an interval until stopped.
type Ringtone struct {
	out      io.Writer
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

func NewRingtone(out io.Writer, interval time.Duration) *Ringtone {
	return &Ringtone{out: out, interval: interval}
}

func (r *Ringtone) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return nil
	}
	if _, err := io.WriteString(r.out, "\a"); err != nil {
		return err
	}

	stop := make(chan struct{})
	r.stop = stop
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.mu.Lock()
				if r.stop == stop {
					io.WriteString(r.out, "\a")
				}
				r.mu.Unlock()
			}
		}
	}()
	return nil
}

func (r *Ringtone) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// TitleFlasher alternates the terminal title while the terminal is not
// focused. Focus changes are reported through SetHidden.
type TitleFlasher struct {
	out      io.Writer
	title    string
	alt      string
	interval time.Duration

	mu      sync.Mutex
	hidden  bool
	showAlt bool
	stop    chan struct{}
}

func NewTitleFlasher(out io.Writer, title, alt string, interval time.Duration) *TitleFlasher {
	return &TitleFlasher{out: out, title: title, alt: alt, interval: interval}
}

// SetHidden records whether the terminal lost focus. Regaining focus
// restores the normal title at once.
func (f *TitleFlasher) SetHidden(hidden bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = hidden
	if !hidden && f.showAlt {
		f.showAlt = false
		f.setTitle(f.title)
	}
}

func (f *TitleFlasher) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	f.stop = stop
	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.tick(stop)
			}
		}
	}()
	return nil
}

func (f *TitleFlasher) tick(stop chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != stop || !f.hidden {
		return
	}
	f.showAlt = !f.showAlt
	if f.showAlt {
		f.setTitle(f.alt)
	} else {
		f.setTitle(f.title)
	}
}

func (f *TitleFlasher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop == nil {
		return
	}
	close(f.stop)
	f.stop = nil
	if f.showAlt {
		f.showAlt = false
		f.setTitle(f.title)
	}
}

func (f *TitleFlasher) setTitle(title string) {
	fmt.Fprintf(f.out, "\x1b]0;%s\a", title)
}
