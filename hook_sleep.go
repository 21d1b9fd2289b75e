package fiberloop

import "time"

// sleepFor parks the current fiber on the reactor's TimerSet for d,
// falling back to a real time.Sleep outside a fiber or without a current
// reactor (hooking disabled, or called from the process's initial
// goroutine). Grounded on sylar's hooked sleep/usleep/nanosleep: add a
// one-shot timer whose callback reschedules the fiber, then YieldToHold —
// no fd, no doIO retry loop, since there is nothing that can return
// EAGAIN here.
func sleepFor(d time.Duration) {
	if d <= 0 {
		return
	}
	if !HookEnabled() {
		time.Sleep(d)
		return
	}
	reactor := CurrentReactor()
	fiber := CurrentFiber()
	if reactor == nil || fiber == nil {
		time.Sleep(d)
		return
	}
	reactor.AddTimer(d, func() {
		reactor.Schedule(Task{fiber: fiber})
	}, false)
	fiber.YieldToHold()
}

// Sleep suspends the calling fiber for d without blocking its worker's OS
// thread, if called from a hooked fiber with a current reactor; otherwise
// it falls back to time.Sleep.
func Sleep(d time.Duration) { sleepFor(d) }

// Usleep suspends the calling fiber for the given number of microseconds.
func Usleep(usec int64) { sleepFor(time.Duration(usec) * time.Microsecond) }

// NanoSleep suspends the calling fiber for the given duration, matching
// nanosleep(2)'s nanosecond-resolution argument.
func NanoSleep(d time.Duration) { sleepFor(d) }
