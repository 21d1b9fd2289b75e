// Package fiberloop provides a coroutine scheduler fused with an event-driven
// I/O reactor, a timer set, and an opt-in syscall hook layer, so that server
// handlers can be written in ordinary blocking style while actually running
// cooperatively atop a small pool of OS threads.
//
// # Architecture
//
// [Fiber] is a goroutine-backed stackful-style coroutine with an explicit
// Resume/Yield protocol (see [Fiber.Resume], [Fiber.YieldToReady],
// [Fiber.YieldToHold]). [Scheduler] is an M:N executor: a fixed pool of
// worker goroutines, each running a dispatch fiber that pulls [Task] values
// off a shared FIFO queue and resumes into them. [Reactor] extends Scheduler
// with a [TimerSet] and a readiness-based I/O multiplexer (epoll on Linux,
// kqueue on Darwin), so fibers can suspend on socket readiness or on a
// deadline instead of blocking an OS thread.
//
// On top of the reactor, the hook layer (see [SetHookEnabled], [Connect],
// [Read], [Write], [Sleep], …) rewrites what look like ordinary blocking
// POSIX calls into register-event-then-yield sequences, honoring per-fd
// timeouts via the [TimerSet].
//
// # Platform support
//
// The reactor targets readiness-based, edge-triggered demultiplexers only:
//   - Linux: epoll
//   - Darwin: kqueue
//
// Windows/IOCP is explicitly out of scope; true preemption, work-stealing,
// and priority scheduling are not provided — scheduling is cooperative and
// strictly FIFO per worker affinity.
//
// # Thread safety
//
// [Scheduler.Schedule] and [Scheduler.ScheduleBatch] are safe to call from
// any goroutine. [Reactor.AddEvent] must be called from the fiber that will
// own the resulting continuation (or with an explicit callback). Timer
// registration is safe from any goroutine.
//
// # Usage
//
//	sched, err := fiberloop.NewReactor(2)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sched.Schedule(fiberloop.FiberTask(func(f *fiberloop.Fiber) {
//	    fiberloop.SetHookEnabled(true)
//	    defer fiberloop.SetHookEnabled(false)
//	    // ordinary-looking blocking I/O that actually suspends the fiber
//	}))
//	sched.Start()
//	defer sched.Stop()
package fiberloop
