package client

import (
	"context"
	"sync"
	"time"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/log"
)

// DefaultDebounce is the flush window, measured from the first enqueue.
const DefaultDebounce = 800 * time.Millisecond

// DefaultMaxBatch matches the server's default ingest.max_batch.
const DefaultMaxBatch = 100

// ImpressionSender delivers one batch of post ids to the ingest endpoint.
type ImpressionSender interface {
	SendImpressions(ctx context.Context, ids []string) ([]core.PostImpression, error)
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithDebounce sets the flush window.
func WithDebounce(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d > 0 {
			b.window = d
		}
	}
}

// WithMaxBatch caps the ids per network call. A larger window is split.
func WithMaxBatch(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.maxBatch = n
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) BatcherOption {
	return func(b *Batcher) { b.clock = c }
}

// OnQueued registers the optimistic hook, called once per newly queued id.
func OnQueued(f func(id string)) BatcherOption {
	return func(b *Batcher) { b.onQueued = f }
}

// OnFlushed registers a hook receiving each batch outcome. It is not called
// for results that arrive after Close.
func OnFlushed(f func(ids []string, result []core.PostImpression, err error)) BatcherOption {
	return func(b *Batcher) { b.onFlushed = f }
}

// Batcher is the per-session impression queue. Each id is queued at most once
// per session: it enters the seen set when queued, not when the flush
// succeeds, so a failed flush under-counts instead of double counting.
// Enqueues within an open window join that window's single network call.
type Batcher struct {
	mu       sync.Mutex
	clock    Clock
	window   time.Duration
	maxBatch int
	sender   ImpressionSender
	seen     map[string]struct{}
	pending  []string
	timer    Timer
	windowID uint64 // guards against stale timer callbacks
	closed   bool

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	onQueued  func(id string)
	onFlushed func(ids []string, result []core.PostImpression, err error)
	logger    *log.Logger
}

func NewBatcher(sender ImpressionSender, opts ...BatcherOption) *Batcher {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Batcher{
		clock:  SystemClock{},
		window:   DefaultDebounce,
		maxBatch: DefaultMaxBatch,
		sender:   sender,
		seen:     make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.ForService("client"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue queues id for the next flush and reports whether it was newly
// queued. Ids already seen this session are ignored.
func (b *Batcher) Enqueue(id string) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if _, dup := b.seen[id]; dup {
		b.mu.Unlock()
		return false
	}
	b.seen[id] = struct{}{}
	b.pending = append(b.pending, id)
	if b.timer == nil {
		b.windowID++
		w := b.windowID
		b.timer = b.clock.AfterFunc(b.window, func() { b.flushWindow(w) })
	}
	b.mu.Unlock()

	if b.onQueued != nil {
		b.onQueued(id)
	}
	return true
}

// Seen reports whether id was already queued this session.
func (b *Batcher) Seen(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.seen[id]
	return ok
}

// Pending returns the ids waiting for the next flush.
func (b *Batcher) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pending...)
}

// Flush takes the whole pending set and sends it in one call, or in chunks of
// the max batch size when it is larger. Calls run in the background; a new
// window can open and flush while they are in flight.
func (b *Batcher) Flush() {
	b.mu.Lock()
	b.flushLocked()
}

func (b *Batcher) flushWindow(w uint64) {
	b.mu.Lock()
	if b.windowID != w || b.timer == nil {
		b.mu.Unlock()
		return
	}
	b.flushLocked()
}

// flushLocked must be called with b.mu held and releases it.
func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.closed || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	ids := b.pending
	b.pending = nil
	var chunks [][]string
	for len(ids) > b.maxBatch {
		chunks = append(chunks, ids[:b.maxBatch:b.maxBatch])
		ids = ids[b.maxBatch:]
	}
	chunks = append(chunks, ids)
	b.inflight.Add(len(chunks))
	b.mu.Unlock()

	for _, c := range chunks {
		go b.send(c)
	}
}

func (b *Batcher) send(ids []string) {
	defer b.inflight.Done()

	result, err := b.sender.SendImpressions(b.ctx, ids)
	if b.ctx.Err() != nil {
		b.logger.Debugf("Discarding impression result for %d ids after close", len(ids))
		return
	}
	if err != nil {
		// Not retried and not rolled back.
		b.logger.Warnf("Impression flush of %d ids failed: %v", len(ids), err)
	} else {
		b.logger.Debugf("Flushed %d impressions", len(ids))
	}
	if b.onFlushed != nil {
		b.onFlushed(ids, result, err)
	}
}

// Wait blocks until every in-flight flush has returned.
func (b *Batcher) Wait() {
	b.inflight.Wait()
}

// Close cancels the open window and in-flight calls. Pending ids are dropped
// and results arriving later are ignored.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	dropped := len(b.pending)
	b.pending = nil
	b.mu.Unlock()

	b.cancel()
	if dropped > 0 {
		b.logger.Debugf("Dropped %d pending impressions on close", dropped)
	}
}
