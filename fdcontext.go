package fiberloop

import (
	"fmt"
	"sync"
)

// eventContext is what a Reactor runs once one direction of a registered
// fd's I/O becomes ready: either a plain callback, or a held fiber that is
// requeued for whichever worker picks it up first. Grounded on
// IOManager::FdContext::EventContext, minus the scheduler pointer — a
// fdContext here always belongs to exactly one Reactor, so there is
// nothing to record per event.
type eventContext struct {
	fiber *Fiber
	cb    func()
}

func (c *eventContext) empty() bool { return c.fiber == nil && c.cb == nil }

func (c *eventContext) reset() {
	c.fiber = nil
	c.cb = nil
}

// take snapshots and clears whatever this context holds, returning it for
// the caller to reschedule once the owning fdContext's lock is released.
// Splitting trigger into take+schedule keeps the queue mutex (acquired by
// Schedule/requeue) strictly outer to the per-fd lock, matching the lock
// order documented for the fd table.
func (c *eventContext) take() (fiber *Fiber, cb func()) {
	fiber, cb = c.fiber, c.cb
	c.reset()
	return fiber, cb
}

// trigger clears this context and reschedules whatever it held. Must be
// called with neither the owning fdContext's lock nor any scheduler lock
// held, since rescheduling takes the queue mutex — callers that hold c.mu
// use take() under the lock and fireEventContext after unlocking instead.
func (c *eventContext) trigger(r *Reactor) {
	fiber, cb := c.take()
	fireEventContext(r, fiber, cb)
}

// fireEventContext reschedules a snapshot taken from an eventContext. Called
// outside any fdContext or scheduler lock.
func fireEventContext(r *Reactor, fiber *Fiber, cb func()) {
	switch {
	case cb != nil:
		r.Schedule(FuncTask(cb))
	case fiber != nil:
		r.requeue(Task{fiber: fiber}, -1)
	}
}

// fdContext is one fd's continuation table entry: which directions are
// currently registered with the poller, and what to resume for each once
// it fires. Grounded on IOManager::FdContext; Go's FastPoller dispatches a
// single combined callback per fd rather than per-direction, so fdContext
// is also what demultiplexes a poller callback's IOEvents bitmask back
// into the read and/or write continuation that actually fired.
type fdContext struct {
	mu     sync.Mutex
	fd     int
	events IOEvents // directions currently registered with the poller
	read   eventContext
	write  eventContext
}

func (c *fdContext) context(ev IOEvents) *eventContext {
	switch ev {
	case EventRead:
		return &c.read
	case EventWrite:
		return &c.write
	default:
		panic(newContractViolation("fdContext.context", fmt.Errorf("event must be EventRead or EventWrite, got %v", ev)))
	}
}

// fdContextTable is the reactor-wide array of fdContext, indexed directly
// by fd for O(1) lookup. Grounded on IOManager::m_fdContexts /
// contextResize: a plain slice grown 1.5x under a write lock rather than a
// fixed-size array, since a Reactor's fd space is unbounded (unlike
// FastPoller's fixed maxFDs array, which this table sits alongside).
type fdContextTable struct {
	mu    sync.RWMutex
	slots []*fdContext
}

func newFDContextTable(initialCapacity int) *fdContextTable {
	t := &fdContextTable{}
	t.growLocked(initialCapacity)
	return t
}

// growLocked extends slots to at least n entries, allocating a fdContext
// for every new index. Caller must hold t.mu for writing.
func (t *fdContextTable) growLocked(n int) {
	if n <= len(t.slots) {
		return
	}
	grown := make([]*fdContext, n)
	copy(grown, t.slots)
	for i := len(t.slots); i < n; i++ {
		grown[i] = &fdContext{fd: i}
	}
	t.slots = grown
}

// get returns the fdContext for fd, growing the table (1.5x past fd, same
// growth factor as IOManager::contextResize) if necessary.
func (t *fdContextTable) get(fd int) *fdContext {
	t.mu.RLock()
	if fd < len(t.slots) {
		c := t.slots[fd]
		t.mu.RUnlock()
		return c
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if fd >= len(t.slots) {
		t.growLocked(int(float64(fd+1) * 1.5))
	}
	return t.slots[fd]
}
