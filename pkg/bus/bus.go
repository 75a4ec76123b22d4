// Package bus is the in-process publish/subscribe hub that fans mutation
// events out to live push connections.
//
// Every subscriber owns one bounded channel. Publish never blocks: when a
// subscriber's buffer is full the configured OverflowPolicy decides whether the
// event is dropped for that subscriber only or the subscriber is disconnected.
// Publishes are sequenced under the registry lock, so all subscribers observe
// events in the same order and events for one post are never reordered.
//
// There is no persistence and no replay. Events published while nobody is
// subscribed are lost.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/log"
)

const DefaultBufferSize = 64

var (
	// ErrSlowSubscriber is reported by a subscription that was disconnected
	// because it could not keep up.
	ErrSlowSubscriber = errors.New("subscriber too slow")
	// ErrClosed is reported by subscriptions released by Bus.Close.
	ErrClosed = errors.New("bus closed")
)

// OverflowPolicy selects what happens when a subscriber's buffer is full.
type OverflowPolicy int

const (
	// Disconnect closes the lagging subscription with ErrSlowSubscriber.
	Disconnect OverflowPolicy = iota
	// Drop discards the event for the lagging subscriber only.
	Drop
)

// ParseOverflowPolicy maps the configuration names "disconnect" and "drop".
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch name {
	case "", "disconnect":
		return Disconnect, nil
	case "drop":
		return Drop, nil
	}
	return Disconnect, errors.New("unknown overflow policy " + name)
}

// Observer receives bus lifecycle notifications. It is used for metrics.
type Observer interface {
	Subscribed(active int)
	Unsubscribed(active int)
	Published(t core.EventType, delivered int)
	Dropped(subscriptionID string)
}

type nopObserver struct{}

func (nopObserver) Subscribed(int)                {}
func (nopObserver) Unsubscribed(int)              {}
func (nopObserver) Published(core.EventType, int) {}
func (nopObserver) Dropped(string)                {}

// Subscription is one registered listener.
type Subscription struct {
	id     string
	ch     chan core.Event
	done   chan struct{}
	err    atomic.Value // errHolder
	closed bool         // guarded by Bus.mu
}

type errHolder struct{ err error }

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan core.Event { return s.ch }

// Done is closed when the subscription ends, before C is drained.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended, or nil if it is active or was
// released with Unsubscribe.
func (s *Subscription) Err() error {
	if h, ok := s.err.Load().(errHolder); ok {
		return h.err
	}
	return nil
}

// Bus is safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	bufSize  int
	policy   OverflowPolicy
	seq      uint64
	closed   bool
	observer Observer
	logger   *log.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithOverflowPolicy sets the slow subscriber policy.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(b *Bus) { b.policy = p }
}

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(b *Bus) {
		if o != nil {
			b.observer = o
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[string]*Subscription),
		bufSize:  DefaultBufferSize,
		policy:   Disconnect,
		observer: nopObserver{},
		logger:   log.ForService("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new listener that receives every event published
// after this call returns. Callers must Unsubscribe to release it.
func (b *Bus) Subscribe() (*Subscription, error) {
	sub := &Subscription{
		id:   uuid.NewString(),
		ch:   make(chan core.Event, b.bufSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub.id] = sub
	active := len(b.subs)
	b.mu.Unlock()

	b.observer.Subscribed(active)
	b.logger.Debugf("subscription %s registered (%d active)", sub.id, active)
	return sub, nil
}

// Unsubscribe releases sub. It is safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	removed := b.removeLocked(sub, nil)
	active := len(b.subs)
	b.mu.Unlock()

	if removed {
		b.observer.Unsubscribed(active)
		b.logger.Debugf("subscription %s released (%d active)", sub.id, active)
	}
}

// removeLocked must be called with b.mu held.
func (b *Bus) removeLocked(sub *Subscription, reason error) bool {
	if sub.closed {
		return false
	}
	sub.closed = true
	delete(b.subs, sub.id)
	if reason != nil {
		sub.err.Store(errHolder{err: reason})
	}
	close(sub.done)
	close(sub.ch)
	return true
}

// Publish delivers e to every current subscriber without blocking and returns
// the assigned sequence number.
func (b *Bus) Publish(e core.Event) uint64 {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	b.seq++
	e.Seq = b.seq

	delivered := 0
	var lagging []string
	for id, sub := range b.subs {
		select {
		case sub.ch <- e:
			delivered++
		default:
			lagging = append(lagging, id)
			if b.policy == Disconnect {
				b.removeLocked(sub, ErrSlowSubscriber)
			}
		}
	}
	active := len(b.subs)
	b.mu.Unlock()

	b.observer.Published(e.Type, delivered)
	for _, id := range lagging {
		b.observer.Dropped(id)
		if b.policy == Disconnect {
			b.logger.Warnf("subscription %s disconnected: buffer full", id)
			b.observer.Unsubscribed(active)
		} else {
			b.logger.Debugf("event %d dropped for subscription %s", e.Seq, id)
		}
	}
	return e.Seq
}

// Size returns the number of active subscriptions.
func (b *Bus) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close releases every subscription with ErrClosed and rejects new ones.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		b.removeLocked(sub, ErrClosed)
	}
	b.mu.Unlock()
	b.observer.Unsubscribed(0)
}
