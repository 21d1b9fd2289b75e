package fiberloop

import (
	"sync/atomic"
	"time"
)

// Reactor extends a Scheduler with a TimerSet and a readiness-based I/O
// multiplexer, so a fiber can suspend on socket readiness or a deadline
// instead of parking an OS thread. Grounded on IOManager, which is
// Scheduler+TimerManager plus an epoll fd and a tickle pipe; here the
// epoll/kqueue plumbing is FastPoller and the tickle pipe is the
// wake-fd pair from wakeup_linux.go/wakeup_darwin.go.
type Reactor struct {
	*Scheduler
	timers *TimerSet
	poller FastPoller
	fds    *fdContextTable

	pollCapMs     int
	pendingEvents atomic.Int64

	wakeFd      int
	wakeWriteFd int

	stopRequested atomic.Bool
	pollStarted   atomic.Bool
	pollerDone    chan struct{}
}

// NewReactor constructs a Reactor with workerCount scheduler workers and
// starts its epoll/kqueue instance and wake fd. Matches the Scheduler
// constructor's shape: any SchedulerOption is also a valid ReactorOption.
func NewReactor(workerCount int, opts ...ReactorOption) (*Reactor, error) {
	cfg, err := resolveReactorOptions(opts)
	if err != nil {
		return nil, err
	}
	sched, err := newSchedulerFromOptions(workerCount, &cfg.scheduler)
	if err != nil {
		return nil, err
	}

	r := &Reactor{
		Scheduler:  sched,
		timers:     NewTimerSet(),
		fds:        newFDContextTable(cfg.initialFDCapacity),
		pollCapMs:  cfg.pollCapMs,
		pollerDone: make(chan struct{}),
	}
	sched.reactor = r
	r.timers.disableRolloverGuard = cfg.disableRolloverGuard
	r.timers.onEarliestChanged = r.tickle

	if err := r.poller.Init(); err != nil {
		return nil, newSyscallError("Reactor.Init", -1, err)
	}

	wakeFd, wakeWriteFd, err := createWakeFd(0, EFD_NONBLOCK|EFD_CLOEXEC)
	if err != nil {
		_ = r.poller.Close()
		return nil, newSyscallError("Reactor.Init", -1, err)
	}
	r.wakeFd, r.wakeWriteFd = wakeFd, wakeWriteFd

	if err := r.poller.RegisterFD(wakeFd, EventRead, func(IOEvents) {
		_ = drainWakeFd(wakeFd)
	}); err != nil {
		_ = closeWakeFd(wakeFd, wakeWriteFd)
		_ = r.poller.Close()
		return nil, newSyscallError("Reactor.Init", wakeFd, err)
	}

	sched.extraQuiescent = r.quiescent
	return r, nil
}

// Timers returns the reactor's TimerSet, for registering
// [AddConditionalTimer] callbacks directly (a generic function can't be a
// method, so conditional timers go through Timers() rather than a
// Reactor method).
func (r *Reactor) Timers() *TimerSet { return r.timers }

// AddTimer schedules cb to run after period elapses on the reactor's
// TimerSet. Convenience wrapper so callers holding a *Reactor don't need
// to also thread its *TimerSet through.
func (r *Reactor) AddTimer(period time.Duration, cb func(), recurring bool) *TimerHandle {
	return r.timers.AddTimer(period, cb, recurring)
}

// tickle wakes the poll loop goroutine while it is blocked in PollIO, e.g.
// because a nearer timer deadline or a new fd registration needs it to
// recompute its poll timeout. Grounded on IOManager::tickle, minus the hasIdleThreads check —
// this module has no per-worker idle tracking to consult, so it always
// writes; drainWakeFd absorbs any resulting extra wakeups cheaply.
func (r *Reactor) tickle() {
	var b [1]byte
	b[0] = 1
	_, _ = writeFD(r.wakeWriteFd, b[:])
}

// quiescent reports whether the reactor itself has nothing left to do:
// no fd has a pending registration and no timer is pending. Wired as the
// embedded Scheduler's extraQuiescent hook, so Stop only takes effect once
// both the task queue and the reactor are empty.
func (r *Reactor) quiescent() bool {
	return r.pendingEvents.Load() == 0 && r.timers.NextTimeout() == NoTimeout
}

// AddEvent registers interest in ev (EventRead or EventWrite) on fd. If cb
// is nil, the calling fiber is captured and rescheduled once the event
// fires — AddEvent must then be called from that fiber's own goroutine,
// immediately before it calls [Fiber.YieldToHold]. If cb is non-nil, it
// runs as a plain [FuncTask] instead, and AddEvent may be called from any
// goroutine.
//
// AddEvent panics with a [ContractViolation] wrapping
// [ErrEventAlreadyRegistered] if ev is already registered on fd — a
// caller must DelEvent, CancelEvent, or let the event fire before
// registering it again.
//
// Grounded on IOManager::addEvent: look up (or grow into) the fd's
// continuation slot, epoll_ctl ADD or MOD depending on whether fd already
// has any registered direction, then stash the continuation.
func (r *Reactor) AddEvent(fd int, ev IOEvents, cb func()) error {
	c := r.fds.get(fd)
	c.mu.Lock()

	ec := c.context(ev)
	if !ec.empty() {
		c.mu.Unlock()
		panic(newContractViolation("Reactor.AddEvent", ErrEventAlreadyRegistered))
	}

	hadAny := c.events != 0
	newEvents := c.events | ev
	c.events = newEvents

	if cb != nil {
		ec.cb = cb
	} else {
		ec.fiber = CurrentFiber()
		if ec.fiber == nil {
			c.events &^= ev
			c.mu.Unlock()
			return newContractViolation("Reactor.AddEvent", ErrClosed)
		}
	}
	c.mu.Unlock()

	var err error
	if hadAny {
		err = r.poller.ModifyFD(fd, newEvents)
	} else {
		err = r.poller.RegisterFD(fd, newEvents, r.makePollCallback(fd))
	}
	if err != nil {
		c.mu.Lock()
		c.events &^= ev
		ec.reset()
		c.mu.Unlock()
		return newSyscallError("Reactor.AddEvent", fd, err)
	}

	r.pendingEvents.Add(1)
	r.tickle()
	return nil
}

// DelEvent removes interest in ev on fd without running its continuation.
// Grounded on IOManager::delEvent.
func (r *Reactor) DelEvent(fd int, ev IOEvents) bool {
	c := r.fds.get(fd)
	c.mu.Lock()
	if c.events&ev == 0 {
		c.mu.Unlock()
		return false
	}
	remaining := c.events &^ ev
	c.events = remaining
	c.context(ev).reset()
	c.mu.Unlock()

	if remaining == 0 {
		_ = r.poller.UnregisterFD(fd)
	} else {
		_ = r.poller.ModifyFD(fd, remaining)
	}
	r.pendingEvents.Add(-1)
	return true
}

// CancelEvent removes interest in ev on fd and, if it was registered,
// immediately triggers its continuation — used to force-wake a fiber
// blocked on an fd that is being closed or timed out. Grounded on
// IOManager::cancleEvent.
func (r *Reactor) CancelEvent(fd int, ev IOEvents) bool {
	c := r.fds.get(fd)
	c.mu.Lock()
	if c.events&ev == 0 {
		c.mu.Unlock()
		return false
	}
	remaining := c.events &^ ev
	c.events = remaining
	ec := c.context(ev)
	c.mu.Unlock()

	if remaining == 0 {
		_ = r.poller.UnregisterFD(fd)
	} else {
		_ = r.poller.ModifyFD(fd, remaining)
	}

	c.mu.Lock()
	fiber, cb := ec.take()
	c.mu.Unlock()
	fireEventContext(r, fiber, cb)
	r.pendingEvents.Add(-1)
	return true
}

// CancelAll removes and triggers every registered event on fd, e.g. right
// before Close so nothing is left waiting on an fd that will never fire
// again. Grounded on IOManager::cancleAll.
func (r *Reactor) CancelAll(fd int) bool {
	c := r.fds.get(fd)
	c.mu.Lock()
	events := c.events
	if events == 0 {
		c.mu.Unlock()
		return false
	}
	c.events = 0
	c.mu.Unlock()

	_ = r.poller.UnregisterFD(fd)

	var fired int
	if events&EventRead != 0 {
		c.mu.Lock()
		fiber, cb := c.read.take()
		c.mu.Unlock()
		fireEventContext(r, fiber, cb)
		fired++
	}
	if events&EventWrite != 0 {
		c.mu.Lock()
		fiber, cb := c.write.take()
		c.mu.Unlock()
		fireEventContext(r, fiber, cb)
		fired++
	}
	r.pendingEvents.Add(int64(-fired))
	return true
}

// makePollCallback builds the single combined FastPoller callback
// registered for fd, demultiplexing its fired IOEvents bitmask back into
// the read and/or write continuation that was actually waiting, and
// re-registering (ModifyFD) or dropping (UnregisterFD) fd depending on
// what's left. Grounded on the event-processing body of IOManager::idle:
// EPOLLERR/EPOLLHUP are folded into both directions fd has registered, so
// a continuation waiting on a half of a now-broken connection still wakes.
func (r *Reactor) makePollCallback(fd int) IOCallback {
	return func(events IOEvents) {
		c := r.fds.get(fd)

		c.mu.Lock()
		effective := events
		if events&(EventError|EventHangup) != 0 {
			effective |= c.events
		}
		fired := c.events & effective
		remaining := c.events &^ fired
		c.events = remaining
		firedRead := fired&EventRead != 0 && !c.read.empty()
		firedWrite := fired&EventWrite != 0 && !c.write.empty()
		c.mu.Unlock()

		if remaining == 0 {
			_ = r.poller.UnregisterFD(fd)
		} else {
			_ = r.poller.ModifyFD(fd, remaining)
		}

		var n int64
		if firedRead {
			c.mu.Lock()
			fiber, cb := c.read.take()
			c.mu.Unlock()
			fireEventContext(r, fiber, cb)
			n++
		}
		if firedWrite {
			c.mu.Lock()
			fiber, cb := c.write.take()
			c.mu.Unlock()
			fireEventContext(r, fiber, cb)
			n++
		}
		r.pendingEvents.Add(-n)
		if r.metrics != nil && n > 0 {
			r.metrics.pollWakeups.Add(1)
		}
	}
}

// Start begins the scheduler's worker dispatch loops and the reactor's
// poll loop. The poll loop runs on its own goroutine regardless of
// [WithCallerAsWorker], since it must keep running even while every
// worker is blocked waiting for the queue.
func (r *Reactor) Start() {
	r.pollStarted.Store(true)
	go r.pollLoop()
	r.Scheduler.Start()
}

// Stop requests that both the scheduler and the reactor's poll loop wind
// down. The poll loop exits once no fd has a pending registration and no
// timer remains, matching the embedded Scheduler's extraQuiescent hook.
func (r *Reactor) Stop() {
	r.stopRequested.Store(true)
	r.Scheduler.Stop()
	r.tickle()
}

// Close stops the reactor (if not already) and releases its poller and
// wake fd. If Start was called, Close blocks until the poll loop has exited.
func (r *Reactor) Close() error {
	r.Stop()
	if r.pollStarted.Load() {
		<-r.pollerDone
	}
	_ = closeWakeFd(r.wakeFd, r.wakeWriteFd)
	return r.poller.Close()
}

// pollLoop is the reactor's idle coroutine: block in PollIO for up to
// pollCapMs or the next timer deadline, whichever is sooner, then run any
// timers that came due. Grounded on IOManager::idle, minus its own
// tickle-pipe drain (folded into the wake fd's registered callback here)
// and minus the per-call cbs-from-listExpiredCb scheduling split out into
// timers.DrainExpired.
func (r *Reactor) pollLoop() {
	defer close(r.pollerDone)
	for {
		if r.stopRequested.Load() && r.quiescent() {
			return
		}

		timeoutMs := r.pollCapMs
		if next := r.timers.NextTimeout(); next != NoTimeout {
			if ms := int(next / time.Millisecond); ms < timeoutMs {
				timeoutMs = ms
			}
		}

		if _, err := r.poller.PollIO(timeoutMs); err != nil {
			logPollError(r.ID(), err, false)
		}

		due := r.timers.DrainExpired(time.Now())
		for _, cb := range due {
			r.Schedule(FuncTask(cb))
			if r.metrics != nil {
				r.metrics.timersFired.Add(1)
			}
		}
	}
}
