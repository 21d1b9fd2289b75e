package fiberloop

import (
	"errors"
	"sync"
	"sync/atomic"
)

var schedulerIDSeq atomic.Int64

// Scheduler is a fixed-size M:N executor: workerCount dispatch loops pull
// [Task] values off a single shared FIFO queue and [Fiber.Resume] into
// them. A task that yields to StateReady is requeued for its worker to
// pick back up; a task that yields to StateHold is left alone until
// something external (an I/O callback, a timer) reschedules it.
//
// Grounded on the original scheduler's run() dispatch loop: a FIFO scan
// honoring per-task worker affinity, a caller-as-worker option, and a
// stop predicate gated on queue emptiness and active-worker count. There
// is no work-stealing, no priority scheduling, and no true preemption —
// a task that never yields starves its worker until it returns.
type Scheduler struct {
	id             int64
	workerCount    int
	callerAsWorker bool
	autoStop       bool
	stackSize      int
	logger         Logger
	metrics        *Metrics

	// reactor is set by NewReactor when this Scheduler backs one, so
	// CurrentReactor can recover it from CurrentScheduler. Left nil for a
	// plain NewScheduler.
	reactor *Reactor

	mu            sync.Mutex
	cond          *sync.Cond
	queue         []scheduledTask
	stopRequested bool
	activeWorkers int

	// extraQuiescent lets an embedder (Reactor) add conditions to the stop
	// predicate beyond "queue empty and no active workers" — e.g. "no
	// pending fd registrations and no pending timers". Defaults to a
	// function that always returns true.
	extraQuiescent func() bool

	wg sync.WaitGroup
}

// NewScheduler constructs a Scheduler with the given fixed worker count.
// workerCount must be at least 1; if callerAsWorker is set via
// [WithCallerAsWorker], the goroutine that calls [Scheduler.Start] serves
// as one of those workers.
func NewScheduler(workerCount int, opts ...SchedulerOption) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	return newSchedulerFromOptions(workerCount, cfg)
}

// newSchedulerFromOptions builds a Scheduler from already-resolved options,
// shared by NewScheduler and NewReactor (the latter resolves a
// reactorOptions that embeds a schedulerOptions rather than a flat
// []SchedulerOption).
func newSchedulerFromOptions(workerCount int, cfg *schedulerOptions) (*Scheduler, error) {
	if workerCount < 1 {
		return nil, newContractViolation("NewScheduler", errors.New("workerCount must be >= 1"))
	}
	s := &Scheduler{
		id:             schedulerIDSeq.Add(1),
		workerCount:    workerCount,
		callerAsWorker: cfg.callerAsWorker,
		autoStop:       cfg.autoStop,
		stackSize:      cfg.stackSize,
		logger:         cfg.logger,
		extraQuiescent: func() bool { return true },
	}
	s.cond = sync.NewCond(&s.mu)
	if cfg.metricsEnabled {
		s.metrics = newMetrics()
	}
	return s, nil
}

// ID returns the scheduler's identifier, used for log correlation.
func (s *Scheduler) ID() int64 { return s.id }

// Metrics returns the scheduler's metrics, or nil if metrics were not
// enabled via [WithMetrics].
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

// log returns the scheduler's configured logger, falling back to the
// process-wide default.
func (s *Scheduler) log() Logger {
	if s.logger != nil {
		return s.logger
	}
	return getGlobalLogger()
}

// Schedule submits task to the shared queue. If worker indices are given,
// the task is pinned to the first one and only that worker's dispatch
// loop will pick it up; otherwise any worker may.
func (s *Scheduler) Schedule(task Task, worker ...int) {
	if task.IsZero() {
		panic(newContractViolation("Scheduler.Schedule", errors.New("zero Task")))
	}
	w := -1
	if len(worker) > 0 {
		w = worker[0]
	}
	s.mu.Lock()
	s.queue = append(s.queue, scheduledTask{task: task, worker: w})
	s.mu.Unlock()
	s.cond.Signal()

	if s.metrics != nil {
		s.metrics.tasksScheduled.Add(1)
	}
}

// ScheduleBatch submits many tasks under a single lock acquisition and
// wakes all workers once, cheaper than calling Schedule in a loop when
// fanning out a batch of unaffinitized work.
func (s *Scheduler) ScheduleBatch(tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	s.mu.Lock()
	for _, t := range tasks {
		if t.IsZero() {
			s.mu.Unlock()
			panic(newContractViolation("Scheduler.ScheduleBatch", errors.New("zero Task in batch")))
		}
		s.queue = append(s.queue, scheduledTask{task: t, worker: -1})
	}
	s.mu.Unlock()
	s.cond.Broadcast()

	if s.metrics != nil {
		s.metrics.tasksScheduled.Add(uint64(len(tasks)))
	}
}

// requeue is used by dispatch loops (and by the Reactor, once a held
// fiber's event fires) to put an already-running fiber back on the
// queue without wrapping it in a fresh Task.
func (s *Scheduler) requeue(t Task, worker int) {
	s.mu.Lock()
	s.queue = append(s.queue, scheduledTask{task: t, worker: worker})
	s.mu.Unlock()
	s.cond.Signal()
}

// Start begins running the scheduler's dispatch loops. If
// [WithCallerAsWorker] was set, Start blocks, running worker 0 on the
// calling goroutine until Stop's conditions are met; the remaining
// workers run on spawned goroutines regardless.
func (s *Scheduler) Start() {
	first := 0
	if s.callerAsWorker {
		first = 1
	}
	s.wg.Add(s.workerCount - first)
	for i := first; i < s.workerCount; i++ {
		go s.runWorker(i)
	}
	if s.callerAsWorker {
		s.wg.Add(1)
		s.runWorker(0)
	}
}

// Wait blocks until every worker's dispatch loop has exited, which only
// happens after Stop and quiescence.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stop requests that the scheduler wind down: once the queue is empty, no
// worker is mid-task, and extraQuiescent (if any) agrees, every dispatch
// loop exits. Stop does not itself block; pair it with Wait if the
// caller needs to know shutdown has completed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// runWorker is the dispatch loop for a single worker: pop a task off the
// queue honoring affinity, resume it, and either requeue (StateReady) or
// leave it parked (StateHold) until something else reschedules it.
func (s *Scheduler) runWorker(idx int) {
	defer s.wg.Done()
	for {
		t, ok := s.nextTask(idx)
		if !ok {
			return
		}

		s.mu.Lock()
		s.activeWorkers++
		s.mu.Unlock()

		if s.metrics != nil && t.fiber.State() == StateInit {
			s.metrics.fibersSpawned.Add(1)
		}

		t.fiber.scheduler = s
		alive := t.fiber.Resume()

		s.mu.Lock()
		s.activeWorkers--
		s.mu.Unlock()

		if !alive {
			if s.metrics != nil {
				s.metrics.fibersReaped.Add(1)
			}
			continue
		}
		if t.fiber.State() == StateReady {
			s.requeue(t, idx)
		}
		// StateHold: left for an external callback to requeue.
	}
}

// nextTask pops the first queued task this worker is eligible to run,
// blocking until one is available or the scheduler is ready to stop.
func (s *Scheduler) nextTask(idx int) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for i, e := range s.queue {
			if e.worker == -1 || e.worker == idx {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				return e.task, true
			}
		}
		if s.autoStop && s.stopRequested && s.activeWorkers == 0 && len(s.queue) == 0 && s.extraQuiescent() {
			return Task{}, false
		}
		if s.stopRequested && !s.autoStop {
			return Task{}, false
		}
		s.cond.Wait()
	}
}
