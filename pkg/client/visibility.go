package client

import (
	"sync"
	"time"
)

const (
	// DefaultVisibleRatio is the fraction of an item that must be on screen.
	DefaultVisibleRatio = 0.5
	// DefaultDwell is how long an item must stay visible to count as seen.
	DefaultDwell = 300 * time.Millisecond
)

// ItemState is the per-item visibility state.
type ItemState int

const (
	Hidden ItemState = iota
	Dwelling
	Candidate
)

func (s ItemState) String() string {
	switch s {
	case Dwelling:
		return "dwelling"
	case Candidate:
		return "candidate"
	default:
		return "hidden"
	}
}

// Enqueuer receives ids that passed the dwell filter. Batcher implements it.
type Enqueuer interface {
	Enqueue(id string) bool
}

type trackedItem struct {
	state ItemState
	timer Timer
	gen   uint64
}

// VisibilityTracker turns viewport ratio updates into impression candidates.
// An item becomes a candidate after staying at or above the visibility ratio
// for the dwell duration; dropping below it earlier cancels the dwell timer
// with no side effect. Candidate is terminal.
type VisibilityTracker struct {
	mu     sync.Mutex
	clock  Clock
	ratio  float64
	dwell  time.Duration
	sink   Enqueuer
	items  map[string]*trackedItem
	gen    uint64
	closed bool
}

// TrackerOption configures a VisibilityTracker.
type TrackerOption func(*VisibilityTracker)

func WithVisibleRatio(r float64) TrackerOption {
	return func(v *VisibilityTracker) {
		if r > 0 && r <= 1 {
			v.ratio = r
		}
	}
}

func WithDwell(d time.Duration) TrackerOption {
	return func(v *VisibilityTracker) {
		if d > 0 {
			v.dwell = d
		}
	}
}

func WithTrackerClock(c Clock) TrackerOption {
	return func(v *VisibilityTracker) { v.clock = c }
}

func NewVisibilityTracker(sink Enqueuer, opts ...TrackerOption) *VisibilityTracker {
	v := &VisibilityTracker{
		clock: SystemClock{},
		ratio: DefaultVisibleRatio,
		dwell: DefaultDwell,
		sink:  sink,
		items: make(map[string]*trackedItem),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Observe records the visible fraction of item id.
func (v *VisibilityTracker) Observe(id string, ratio float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}

	it, ok := v.items[id]
	if !ok {
		it = &trackedItem{}
		v.items[id] = it
	}

	visible := ratio >= v.ratio
	switch it.state {
	case Hidden:
		if visible {
			v.gen++
			gen := v.gen
			it.state = Dwelling
			it.gen = gen
			it.timer = v.clock.AfterFunc(v.dwell, func() { v.promote(id, gen) })
		}
	case Dwelling:
		if !visible {
			it.timer.Stop()
			it.timer = nil
			it.state = Hidden
		}
	case Candidate:
	}
}

// promote runs when a dwell timer fires. Timers stopped too late to prevent
// the callback are recognised by their generation.
func (v *VisibilityTracker) promote(id string, gen uint64) {
	v.mu.Lock()
	it, ok := v.items[id]
	if v.closed || !ok || it.state != Dwelling || it.gen != gen {
		v.mu.Unlock()
		return
	}
	it.state = Candidate
	it.timer = nil
	v.mu.Unlock()

	v.sink.Enqueue(id)
}

// State returns the current state of id.
func (v *VisibilityTracker) State(id string) ItemState {
	v.mu.Lock()
	defer v.mu.Unlock()
	if it, ok := v.items[id]; ok {
		return it.state
	}
	return Hidden
}

// Remove stops tracking id, for example when its element unmounts. A pending
// dwell timer is cancelled. Session dedup lives in the Batcher, so a removed
// candidate that is tracked again is still never counted twice.
func (v *VisibilityTracker) Remove(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if it, ok := v.items[id]; ok {
		if it.timer != nil {
			it.timer.Stop()
		}
		delete(v.items, id)
	}
}

// Close cancels every dwell timer. Later observations are ignored.
func (v *VisibilityTracker) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for _, it := range v.items {
		if it.timer != nil {
			it.timer.Stop()
			it.timer = nil
		}
	}
}
