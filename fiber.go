package fiberloop

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// Fiber is a goroutine-backed stackful-style coroutine. Go offers no
// supported API for switching a raw OS/goroutine stack the way a
// ucontext-based coroutine library would, so a Fiber is rendered as its
// own goroutine, parked on an unbuffered handshake channel whenever it is
// not the one conceptually "running" — the technique this package learned
// from channel-based coroutine libraries, reworked here around an
// explicit [FiberState] rather than a single alive/dead boolean.
//
// Only one of {the fiber's own goroutine, whoever last called Resume} is
// ever runnable at a time, so a Fiber's state transitions never race
// against themselves — the handshake channels are the synchronization.
type Fiber struct {
	id        int64
	state     *fastState
	entry     func(*Fiber)
	resumeCh  chan struct{}
	yieldCh   chan struct{}
	stackSize int
	scheduler *Scheduler
}

var fiberIDSeq atomic.Int64

// Spawn creates a new Fiber running entry, and starts its backing
// goroutine. The fiber does not begin executing entry until the first
// call to [Fiber.Resume].
func Spawn(entry func(*Fiber), opts ...SpawnOption) *Fiber {
	cfg, err := resolveSpawnOptions(opts)
	if err != nil {
		// SpawnOption funcs in this package never return non-nil error;
		// a non-nil err here means a caller-supplied SpawnOption is broken.
		panic(newContractViolation("Spawn", err))
	}
	f := &Fiber{
		id:        fiberIDSeq.Add(1),
		state:     newFastState(StateInit),
		entry:     entry,
		resumeCh:  make(chan struct{}),
		yieldCh:   make(chan struct{}),
		stackSize: cfg.stackSize,
	}
	go f.loop()
	return f
}

// ID returns the fiber's identifier, stable for its lifetime (including
// across Recycle), used for log correlation.
func (f *Fiber) ID() int64 { return f.id }

// State returns the fiber's current state.
func (f *Fiber) State() FiberState { return f.state.Load() }

func (f *Fiber) loop() {
	<-f.resumeCh

	prev := CurrentFiber()
	currentFiberLocal.set(f)
	prevSched := CurrentScheduler()
	if f.scheduler != nil {
		currentSchedulerLocal.set(f.scheduler)
	}
	defer func() {
		if prev != nil {
			currentFiberLocal.set(prev)
		} else {
			currentFiberLocal.clear()
		}
		if prevSched != nil {
			currentSchedulerLocal.set(prevSched)
		} else {
			currentSchedulerLocal.clear()
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			logFiberPanicked(f.id, r, debug.Stack())
			f.state.Store(StateExcept)
		}
		close(f.yieldCh)
	}()

	f.entry(f)
	f.state.Store(StateTerm)
}

// Resume transfers control to the fiber, blocking the calling goroutine
// until the fiber yields (via YieldToReady or YieldToHold) or its entry
// function returns or panics. It returns true if the fiber is still
// runnable afterward, false if it has terminated (normally or via panic).
//
// Resume panics with a [ContractViolation] if the fiber is not currently
// in a runnable state (StateExec, or already reaped).
func (f *Fiber) Resume() (alive bool) {
	from := f.state.Load()
	if !from.Runnable() {
		panic(newContractViolation("Fiber.Resume", fmt.Errorf("fiber %d not runnable from state %s", f.id, from)))
	}
	if !f.state.TryTransition(from, StateExec) {
		panic(newContractViolation("Fiber.Resume", fmt.Errorf("fiber %d state changed concurrently", f.id)))
	}

	f.resumeCh <- struct{}{}
	_, alive = <-f.yieldCh
	return alive
}

// yield hands control back to whoever called Resume, recording next as
// the fiber's resting state, then blocks until Resume is called again.
func (f *Fiber) yield(next FiberState) {
	f.state.Store(next)
	f.yieldCh <- struct{}{}
	<-f.resumeCh
}

// YieldToReady suspends the fiber in StateReady: it cooperatively gave up
// its turn but has no outstanding event to wait on, and is immediately
// eligible for the scheduler to resume again.
func (f *Fiber) YieldToReady() { f.yield(StateReady) }

// YieldToHold suspends the fiber in StateHold: it is waiting on an
// external event (I/O readiness or a timer) and must not be resumed until
// that event's callback explicitly reschedules it.
func (f *Fiber) YieldToHold() { f.yield(StateHold) }

// Recycle resets a terminated or excepted fiber to StateInit with a new
// entry function and restarts its backing goroutine, so a caller with a
// hot pool of fiber slots doesn't need to pay goroutine-creation cost on
// every task.
//
// Recycle panics with a [ContractViolation] if the fiber has not reached
// StateTerm or StateExcept.
func (f *Fiber) Recycle(entry func(*Fiber)) {
	st := f.state.Load()
	if !st.Reapable() {
		panic(newContractViolation("Fiber.Recycle", fmt.Errorf("fiber %d not reapable from state %s", f.id, st)))
	}
	f.entry = entry
	f.resumeCh = make(chan struct{})
	f.yieldCh = make(chan struct{})
	f.state.Store(StateInit)
	go f.loop()
}
