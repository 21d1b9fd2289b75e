package fiberloop

// Task is a unit of work submitted to a Scheduler: a fiber (or a plain
// callable, which is wrapped in one) ready to be resumed for the first
// time. Grounded on the "fiber-or-callable-or-thread" union the original
// scheduler's coroutine queue entries used — here narrowed to
// fiber-or-callable, since Go has no analogue to pinning work to a named
// OS thread distinct from worker affinity.
type Task struct {
	fiber *Fiber
}

// FiberTask wraps an already-defined fiber entry function as a Task,
// spawning its backing fiber immediately (though it will not run until a
// worker resumes it).
func FiberTask(entry func(*Fiber), opts ...SpawnOption) Task {
	return Task{fiber: Spawn(entry, opts...)}
}

// FuncTask wraps a plain, yield-free callable as a Task. Use this for
// work that never suspends; if fn needs to suspend on I/O or a timer, use
// [FiberTask] instead so it can reach the current *Fiber via
// [CurrentFiber].
func FuncTask(fn func()) Task {
	return Task{fiber: Spawn(func(*Fiber) { fn() })}
}

// IsZero reports whether t is the zero Task (no fiber attached).
func (t Task) IsZero() bool { return t.fiber == nil }

// scheduledTask pairs a Task with the worker it's pinned to, or -1 for
// "any worker pulls it off the shared queue".
type scheduledTask struct {
	task   Task
	worker int
}
