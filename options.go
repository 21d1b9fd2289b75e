// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

// schedulerOptions holds configuration resolved from SchedulerOption values.
type schedulerOptions struct {
	callerAsWorker bool
	autoStop       bool
	metricsEnabled bool
	stackSize      int
	logger         Logger
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

type schedulerOptionFunc func(*schedulerOptions) error

func (f schedulerOptionFunc) applyScheduler(o *schedulerOptions) error { return f(o) }

// WithCallerAsWorker dedicates the goroutine that calls [Scheduler.Start]
// as one of the scheduler's workers, rather than spawning an extra one.
func WithCallerAsWorker() SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) error {
		o.callerAsWorker = true
		return nil
	})
}

// WithAutoStop controls when workers exit after Stop has been requested.
// Enabled (the default), a worker exits only once the task queue is empty,
// no worker is mid-task, and an embedding Reactor has no pending events
// or timers. Disabled, each worker exits as soon as Stop has been
// requested and it finds no queued task it may run, without waiting for
// other workers or for the Reactor.
func WithAutoStop(enabled bool) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) error {
		o.autoStop = enabled
		return nil
	})
}

// WithMetrics enables atomic-counter metrics collection, retrievable via
// [Scheduler.Metrics].
func WithMetrics(enabled bool) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) error {
		o.metricsEnabled = enabled
		return nil
	})
}

// WithStackSizeHint sets the cosmetic stack-size hint recorded against
// spawned fibers (fiber.stack_size); Go goroutine stacks grow on demand
// regardless, so this affects diagnostics only, not allocation.
func WithStackSizeHint(bytes int) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) error {
		o.stackSize = bytes
		return nil
	})
}

// WithLogger stores a structured [Logger] on the scheduler. The package's
// own log output (fiber panics, poll errors, timer warnings) does not use
// it; that output always goes through the process-wide logger set via
// [SetStructuredLogger].
func WithLogger(l Logger) SchedulerOption {
	return schedulerOptionFunc(func(o *schedulerOptions) error {
		o.logger = l
		return nil
	})
}

func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		autoStop:  true,
		stackSize: int(fiberStackSize.Value()),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// reactorOptions holds configuration resolved from ReactorOption values,
// layered on top of schedulerOptions.
type reactorOptions struct {
	scheduler           schedulerOptions
	pollCapMs           int
	initialFDCapacity   int
	disableRolloverGuard bool
}

// ReactorOption configures a Reactor at construction time. Every
// SchedulerOption is also a valid ReactorOption.
type ReactorOption interface {
	applyReactor(*reactorOptions) error
}

type reactorOptionFunc func(*reactorOptions) error

func (f reactorOptionFunc) applyReactor(o *reactorOptions) error { return f(o) }

func (f schedulerOptionFunc) applyReactor(o *reactorOptions) error {
	return f(&o.scheduler)
}

// WithPollCap overrides the maximum time the reactor's poll loop will
// block in a single poll syscall while waiting for the next timer or I/O event.
func WithPollCap(ms int) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) error {
		o.pollCapMs = ms
		return nil
	})
}

// WithInitialFDCapacity sets the starting size of the reactor's per-fd
// continuation table, grown by 1.5x on demand thereafter.
func WithInitialFDCapacity(n int) ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) error {
		o.initialFDCapacity = n
		return nil
	})
}

// DisableRolloverGuard turns off the reactor's defense against a timer
// heap built from a clock that jumped backward. Safe wherever the host
// clock is guaranteed monotonic.
func DisableRolloverGuard() ReactorOption {
	return reactorOptionFunc(func(o *reactorOptions) error {
		o.disableRolloverGuard = true
		return nil
	})
}

func resolveReactorOptions(opts []ReactorOption) (*reactorOptions, error) {
	cfg := &reactorOptions{
		pollCapMs:         int(reactorPollCap.Value()),
		initialFDCapacity: int(reactorInitialFDCapacity.Value()),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyReactor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// spawnOptions holds configuration resolved from SpawnOption values.
type spawnOptions struct {
	stackSize int
}

// SpawnOption configures an individual [Spawn] call.
type SpawnOption interface {
	applySpawn(*spawnOptions) error
}

type spawnOptionFunc func(*spawnOptions) error

func (f spawnOptionFunc) applySpawn(o *spawnOptions) error { return f(o) }

// WithFiberStackSize overrides the cosmetic stack-size hint recorded
// against this one fiber, rather than inheriting fiber.stack_size.
func WithFiberStackSize(bytes int) SpawnOption {
	return spawnOptionFunc(func(o *spawnOptions) error {
		o.stackSize = bytes
		return nil
	})
}

func resolveSpawnOptions(opts []SpawnOption) (*spawnOptions, error) {
	cfg := &spawnOptions{stackSize: int(fiberStackSize.Value())}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySpawn(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
