package codesync

import "sync"

// Document is a last-writer-wins register. A higher version wins; equal
// versions are ordered by author id.
type Document struct {
	mu      sync.RWMutex
	content string
	version uint64
	author  string
}

func (d *Document) Snapshot() Update {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Update{Content: d.content, Version: d.version, Author: d.author}
}

func (d *Document) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// Edit replaces the content locally and returns the update to broadcast.
// The boolean is false when content is unchanged.
func (d *Document) Edit(author, content string) (Update, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if content == d.content {
		return Update{Content: d.content, Version: d.version, Author: d.author}, false
	}
	d.version++
	d.content = content
	d.author = author
	return Update{Content: content, Version: d.version, Author: author}, true
}

// Apply merges a remote update and reports whether it replaced the content.
func (d *Document) Apply(u Update) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !newer(u, d.version, d.author) {
		return false
	}
	d.content = u.Content
	d.version = u.Version
	d.author = u.Author
	return true
}

func newer(u Update, version uint64, author string) bool {
	if u.Version != version {
		return u.Version > version
	}
	return u.Author > author
}
