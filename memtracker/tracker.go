// Package memtracker implements the memory-accounting primitive the delta
// writer uses to decide when to apply write backpressure. It is grounded
// on the teacher's resource.Controller (github.com/hupe1980/vecgo/resource),
// simplified from a blocking semaphore into the soft, observe-after-the-fact
// tracker the reference delta writer uses: writes are never blocked before
// they happen, but the writer's Write checks LimitExceeded() after each
// insert and reacts by flushing.
package memtracker

import "sync/atomic"

// Tracker attributes byte consumption to a named budget, optionally
// chained to a parent tracker (mirroring MemTracker::parent() in the
// reference implementation, used by §4.3 step 6's second check).
type Tracker struct {
	name       string
	limitBytes int64 // 0 means unlimited
	consumed   atomic.Int64
	parent     *Tracker
}

// New creates a tracker with the given byte limit (0 = unlimited) and
// optional parent.
func New(name string, limitBytes int64, parent *Tracker) *Tracker {
	return &Tracker{name: name, limitBytes: limitBytes, parent: parent}
}

// Name returns the tracker's label, used in diagnostics.
func (t *Tracker) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Consume adds delta (which may be negative) to the tracker's and every
// ancestor's consumption, returning the tracker's own new consumption.
func (t *Tracker) Consume(delta int64) int64 {
	if t == nil {
		return 0
	}
	if t.parent != nil {
		t.parent.Consume(delta)
	}
	return t.consumed.Add(delta)
}

// Release is shorthand for Consume(-n).
func (t *Tracker) Release(n int64) {
	t.Consume(-n)
}

// Consumption returns the tracker's current byte consumption.
func (t *Tracker) Consumption() int64 {
	if t == nil {
		return 0
	}
	return t.consumed.Load()
}

// Limit returns the tracker's configured byte limit, or 0 if unlimited.
func (t *Tracker) Limit() int64 {
	if t == nil {
		return 0
	}
	return t.limitBytes
}

// LimitExceeded reports whether this tracker (not any ancestor) is over
// its own configured limit.
func (t *Tracker) LimitExceeded() bool {
	if t == nil || t.limitBytes <= 0 {
		return false
	}
	return t.consumed.Load() > t.limitBytes
}

// Parent returns the tracker's parent, or nil if it has none.
func (t *Tracker) Parent() *Tracker {
	if t == nil {
		return nil
	}
	return t.parent
}
