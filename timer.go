package fiberloop

import (
	"container/heap"
	"sync"
	"time"
	"weak"
)

// NoTimeout is returned by [TimerSet.NextTimeout] when no timer is
// pending, so a poller can block indefinitely.
const NoTimeout time.Duration = -1

// timerEntry is one scheduled callback in a TimerSet's min-heap, ordered
// by (when, seq) so timers scheduled for the same instant fire in
// registration order. Grounded on the teacher's timerHeap extended with
// heap-index tracking — the standard container/heap "update/remove by
// handle" idiom — since a bare container/heap only supports removing the
// root.
type timerEntry struct {
	when     time.Time
	seq      uint64
	period   time.Duration
	recurring bool
	cb        func()
	guard     func() bool // nil means unconditional
	canceled  bool
	consumed  bool // fired one-shot: Refresh/Reset must not revive it
	index     int // position in the heap slice, -1 when not in it
}

type timerHeapSlice []*timerEntry

func (h timerHeapSlice) Len() int { return len(h) }

func (h timerHeapSlice) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeapSlice) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeapSlice) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeapSlice) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimerSet is a min-heap of pending timer callbacks, with O(log n)
// cancel/refresh/reset via a stable [TimerHandle], and optional
// conditional timers gated on a weak reference staying alive. Grounded on
// the original's Timer/TimerManager pair; the weak-reference guard
// technique is this module's own, reimplemented from the general idea of
// registry.go's promise scavenging (see DESIGN.md) without its
// ring-buffer scavenger, which was sized for a much higher-churn
// workload than a timer set sees.
type TimerSet struct {
	mu   sync.Mutex
	heap timerHeapSlice
	seq  uint64

	disableRolloverGuard bool
	lastNow              time.Time

	// onEarliestChanged is invoked (outside the lock) whenever the
	// earliest deadline in the set changes, so a Reactor can retarget its
	// poll timeout instead of waiting out a now-stale one.
	onEarliestChanged func()
}

// NewTimerSet constructs an empty TimerSet.
func NewTimerSet(opts ...func(*TimerSet)) *TimerSet {
	ts := &TimerSet{}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// TimerHandle references a single scheduled timer entry for
// cancel/refresh/reset.
type TimerHandle struct {
	ts    *TimerSet
	entry *timerEntry
}

func (ts *TimerSet) addLocked(e *timerEntry) *TimerHandle {
	ts.seq++
	e.seq = ts.seq
	wasEarliest := ts.heap.Len() == 0
	heap.Push(&ts.heap, e)
	if wasEarliest || ts.heap[0] == e {
		ts.notifyEarliestChanged()
	}
	return &TimerHandle{ts: ts, entry: e}
}

// AddTimer schedules cb to run after period elapses. If recurring, cb is
// rescheduled for period after its previous firing each time it runs.
func (ts *TimerSet) AddTimer(period time.Duration, cb func(), recurring bool) *TimerHandle {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e := &timerEntry{when: time.Now().Add(period), period: period, recurring: recurring, cb: cb}
	return ts.addLocked(e)
}

// AddConditionalTimer schedules cb the same way as AddTimer, but the
// timer is silently dropped (never fired, never requeued) once guard's
// referent has been garbage collected. Use this to tie a timer's
// lifetime to an object without the object needing to know about the
// timer, e.g. a per-connection idle timeout that should vanish with the
// connection.
func AddConditionalTimer[T any](ts *TimerSet, period time.Duration, cb func(), guard weak.Pointer[T], recurring bool) *TimerHandle {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	e := &timerEntry{
		when:      time.Now().Add(period),
		period:    period,
		recurring: recurring,
		cb:        cb,
		guard:     func() bool { return guard.Value() != nil },
	}
	return ts.addLocked(e)
}

// Cancel removes the timer. Safe to call more than once, or after the
// timer has already fired.
func (h *TimerHandle) Cancel() {
	h.ts.mu.Lock()
	defer h.ts.mu.Unlock()
	h.entry.canceled = true
	if h.entry.index >= 0 {
		heap.Remove(&h.ts.heap, h.entry.index)
		h.ts.notifyEarliestChanged()
	}
}

// Refresh resets the timer's deadline to now plus its original period,
// without changing the period itself or its recurring flag. A no-op once
// the timer has been canceled or has already fired as a one-shot — a
// consumed timer's callback is gone from the heap for good, not eligible
// for revival.
func (h *TimerHandle) Refresh() {
	h.ts.mu.Lock()
	defer h.ts.mu.Unlock()
	if h.entry.canceled || h.entry.consumed {
		return
	}
	h.entry.when = time.Now().Add(h.entry.period)
	if h.entry.index >= 0 {
		heap.Fix(&h.ts.heap, h.entry.index)
	} else {
		h.ts.seq++
		h.entry.seq = h.ts.seq
		heap.Push(&h.ts.heap, h.entry)
	}
	h.ts.notifyEarliestChanged()
}

// Reset changes the timer's period. If fromNow is true the new deadline
// is now+newPeriod; otherwise it is the timer's previous deadline minus
// its old period, plus newPeriod (preserving phase). Like Refresh, a
// no-op on a canceled or already-consumed one-shot timer.
func (h *TimerHandle) Reset(newPeriod time.Duration, fromNow bool) {
	h.ts.mu.Lock()
	defer h.ts.mu.Unlock()
	if h.entry.canceled || h.entry.consumed {
		return
	}
	if fromNow {
		h.entry.when = time.Now().Add(newPeriod)
	} else {
		h.entry.when = h.entry.when.Add(newPeriod - h.entry.period)
	}
	h.entry.period = newPeriod
	if h.entry.index >= 0 {
		heap.Fix(&h.ts.heap, h.entry.index)
	} else if !h.entry.canceled {
		h.ts.seq++
		h.entry.seq = h.ts.seq
		heap.Push(&h.ts.heap, h.entry)
	}
	h.ts.notifyEarliestChanged()
}

// NextTimeout reports how long until the earliest pending timer fires: 0
// if one is already due, [NoTimeout] if the set is empty.
func (ts *TimerSet) NextTimeout() time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.heap.Len() == 0 {
		return NoTimeout
	}
	d := time.Until(ts.heap[0].when)
	if d < 0 {
		return 0
	}
	return d
}

// DrainExpired pops every timer due at or before now, re-inserting
// recurring ones for their next firing, and returns the callbacks to run.
// Callbacks are returned rather than invoked under the lock, so a caller
// (typically the Reactor's poll loop) can run them without holding the
// TimerSet's mutex across arbitrary user code.
//
// If the rollover guard is enabled (the default) and now is more than one
// hour earlier than the last call's now, DrainExpired assumes the clock
// jumped backward, logs a warning, and treats every pending timer as
// expired this round; recurring ones are re-armed a period after now. A
// smaller backward step is drained normally against the earlier now.
func (ts *TimerSet) DrainExpired(now time.Time) []func() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	rolledOver := !ts.disableRolloverGuard && !ts.lastNow.IsZero() && now.Before(ts.lastNow.Add(-time.Hour))
	if rolledOver {
		sWarn("timer", "clock moved backward by more than an hour, expiring every pending timer", map[string]interface{}{
			"observed": now, "previous": ts.lastNow,
		})
	}
	ts.lastNow = now

	var due []func()
	var again []*timerEntry
	for ts.heap.Len() > 0 && (rolledOver || !ts.heap[0].when.After(now)) {
		e := heap.Pop(&ts.heap).(*timerEntry)
		if e.canceled {
			continue
		}
		if e.guard != nil && !e.guard() {
			continue
		}
		due = append(due, e.cb)
		if e.recurring {
			again = append(again, e)
		} else {
			e.consumed = true
		}
	}
	for _, e := range again {
		e.when = now.Add(e.period)
		ts.seq++
		e.seq = ts.seq
		heap.Push(&ts.heap, e)
	}
	if len(due) > 0 {
		ts.notifyEarliestChanged()
	}
	return due
}

// Sweep removes conditional timers whose guard has already been
// collected, without waiting for their expiry. Not called by the
// Reactor's idle loop by default — conditional timers are cheap enough to
// leave for DrainExpired to discard at their natural expiry — but
// available for a caller with many long-lived conditional timers and a
// tighter memory bound in mind.
func (ts *TimerSet) Sweep(now time.Time) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var dead []*timerEntry
	for _, e := range ts.heap {
		if e.guard != nil && !e.guard() {
			dead = append(dead, e)
		}
	}
	for _, e := range dead {
		if e.index >= 0 {
			heap.Remove(&ts.heap, e.index)
		}
	}
	if len(dead) > 0 {
		ts.notifyEarliestChanged()
	}
	return len(dead)
}

func (ts *TimerSet) notifyEarliestChanged() {
	if ts.onEarliestChanged != nil {
		ts.onEarliestChanged()
	}
}
