package fiberloop

import "sync/atomic"

// Metrics holds minimal atomic counters for a Scheduler/Reactor, enabled
// via [WithMetrics]. Grounded on the teacher's WithMetrics option and its
// atomic-counter idiom elsewhere in this package (fastState, FastPoller's
// version counter); deliberately does not include percentile/histogram
// machinery — this module tracks counts, not latency distributions.
type Metrics struct {
	fibersSpawned  atomic.Uint64
	fibersReaped   atomic.Uint64
	tasksScheduled atomic.Uint64
	timersFired    atomic.Uint64
	pollWakeups    atomic.Uint64
}

func newMetrics() *Metrics { return &Metrics{} }

// FibersSpawned returns the number of fibers spawned since the scheduler
// was created.
func (m *Metrics) FibersSpawned() uint64 { return m.fibersSpawned.Load() }

// FibersReaped returns the number of fibers that reached StateTerm or
// StateExcept.
func (m *Metrics) FibersReaped() uint64 { return m.fibersReaped.Load() }

// TasksScheduled returns the number of Task values submitted via Schedule
// or ScheduleBatch.
func (m *Metrics) TasksScheduled() uint64 { return m.tasksScheduled.Load() }

// TimersFired returns the number of timer callbacks invoked.
func (m *Metrics) TimersFired() uint64 { return m.timersFired.Load() }

// PollWakeups returns the number of fd readiness callbacks, dispatched by
// the reactor's poll syscall, that fired at least one waiting
// continuation. Wake-fd wakeups and expired timers are not counted.
func (m *Metrics) PollWakeups() uint64 { return m.pollWakeups.Load() }
