package client

import (
	"sync"

	"github.com/rubiojr/pulse/pkg/core"
)

// FrameHandler consumes push frames.
type FrameHandler interface {
	HandleFrame(f core.Frame)
}

// FeedState is the local copy of the feed, newest first. It is updated by push
// frames, by authoritative reads and by optimistic impression increments.
type FeedState struct {
	mu       sync.RWMutex
	posts    []core.Post
	onChange func()
}

// NewFeedState returns an empty feed. onChange, if set, is called after every
// mutation, outside the lock.
func NewFeedState(onChange func()) *FeedState {
	return &FeedState{onChange: onChange}
}

func (f *FeedState) changed() {
	if f.onChange != nil {
		f.onChange()
	}
}

// Replace installs an authoritative snapshot of the feed.
func (f *FeedState) Replace(posts []core.Post) {
	cp := make([]core.Post, len(posts))
	for i, p := range posts {
		cp[i] = p.Clone()
	}
	f.mu.Lock()
	f.posts = cp
	f.mu.Unlock()
	f.changed()
}

// Posts returns a copy of the feed.
func (f *FeedState) Posts() []core.Post {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.Post, len(f.posts))
	for i, p := range f.posts {
		out[i] = p.Clone()
	}
	return out
}

// Post returns the local copy of one post.
func (f *FeedState) Post(id string) (core.Post, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i := f.indexLocked(id); i >= 0 {
		return f.posts[i].Clone(), true
	}
	return core.Post{}, false
}

func (f *FeedState) indexLocked(id string) int {
	for i := range f.posts {
		if f.posts[i].ID == id {
			return i
		}
	}
	return -1
}

// Prepend adds post at the top unless a post with the same id is present.
func (f *FeedState) Prepend(post core.Post) bool {
	f.mu.Lock()
	if f.indexLocked(post.ID) >= 0 {
		f.mu.Unlock()
		return false
	}
	f.posts = append([]core.Post{post.Clone()}, f.posts...)
	f.mu.Unlock()
	f.changed()
	return true
}

// ReplacePost swaps the local copy of post wholesale. Posts not in the feed
// are ignored.
func (f *FeedState) ReplacePost(post core.Post) bool {
	f.mu.Lock()
	i := f.indexLocked(post.ID)
	if i < 0 {
		f.mu.Unlock()
		return false
	}
	f.posts[i] = post.Clone()
	f.mu.Unlock()
	f.changed()
	return true
}

// IncrementImpressions bumps the local impression count of id by one.
func (f *FeedState) IncrementImpressions(id string) {
	f.mu.Lock()
	i := f.indexLocked(id)
	if i >= 0 {
		f.posts[i].Impressions++
	}
	f.mu.Unlock()
	if i >= 0 {
		f.changed()
	}
}

// HandleFrame applies a push frame. Unknown types, pings and frames without a
// post are ignored.
func (f *FeedState) HandleFrame(fr core.Frame) {
	if fr.Post == nil {
		return
	}
	typ, ok := core.EventTypeFromWire(fr.Type)
	if !ok {
		return
	}
	switch typ {
	case core.EventPostCreated:
		f.Prepend(*fr.Post)
	default:
		f.ReplacePost(*fr.Post)
	}
}
