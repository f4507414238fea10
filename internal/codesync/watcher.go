package codesync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher mirrors a file into a Session: local writes are published and
// remote updates are written back.
type Watcher struct {
	path    string
	session *Session
	fw      *fsnotify.Watcher

	mu      sync.Mutex
	written string

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Watch loads path into the session and starts mirroring it. The file is
// created if missing.
func Watch(path string, s *Session) (*Watcher, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s.Load(string(data))

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// editors often replace files by rename, so the directory is watched
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		session: s,
		fw:      fw,
		written: string(data),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.OnRemoteUpdate(w.writeBack)
	go w.loop()

	slog.Info("watching file", "path", path)
	return w, nil
}

func (w *Watcher) Path() string { return w.path }

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.fw.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.publish()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher error", "path", w.path, "err", err)
		}
	}
}

func (w *Watcher) publish() {
	// reading under the lock keeps a half-done writeBack from being published
	w.mu.Lock()
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.mu.Unlock()
		slog.Debug("reading watched file", "path", w.path, "err", err)
		return
	}
	echo := string(data) == w.written
	w.written = string(data)
	w.mu.Unlock()
	if echo {
		return
	}

	u, err := w.session.Publish(string(data))
	switch {
	case errors.Is(err, ErrUndelivered):
		slog.Debug("code update kept locally", "version", u.Version)
	case err != nil:
		slog.Error("failed to publish code update", "err", err)
	}
}

func (w *Watcher) writeBack(from string, u Update) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if u.Content == w.written {
		return
	}
	if err := os.WriteFile(w.path, []byte(u.Content), 0o644); err != nil {
		slog.Error("failed to write remote update", "path", w.path, "from", from, "err", err)
		return
	}
	w.written = u.Content
}
