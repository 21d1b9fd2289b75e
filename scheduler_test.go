package fiberloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_NewScheduler_RejectsZeroWorkers(t *testing.T) {
	t.Parallel()

	_, err := NewScheduler(0)
	require.Error(t, err)
	var cv *ContractViolation
	require.ErrorAs(t, err, &cv)
}

func Test_Scheduler_ScheduleZeroTaskPanics(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(1)
	require.NoError(t, err)

	require.Panics(t, func() { sched.Schedule(Task{}) })
}

func Test_Scheduler_RunsFuncTaskToCompletion(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(2, WithAutoStop(true))
	require.NoError(t, err)

	done := make(chan struct{})
	sched.Schedule(FuncTask(func() { close(done) }))
	sched.Start()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for scheduled task to run")
	}

	sched.Stop()
	sched.Wait()
}

func Test_Scheduler_YieldToReadyGetsRequeuedAutomatically(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(1, WithAutoStop(true))
	require.NoError(t, err)

	done := make(chan struct{})
	var visits int
	sched.Schedule(FiberTask(func(fb *Fiber) {
		visits++
		if visits < 3 {
			fb.YieldToReady()
			return
		}
		close(done)
	}))
	sched.Start()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fiber to be requeued to completion")
	}
	if visits != 3 {
		t.Fatalf("visits = %d, want 3", visits)
	}

	sched.Stop()
	sched.Wait()
}

func Test_Scheduler_YieldToHoldRequiresExternalRequeue(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(1, WithAutoStop(false))
	require.NoError(t, err)

	reachedHold := make(chan *Fiber, 1)
	done := make(chan struct{})
	sched.Schedule(FiberTask(func(fb *Fiber) {
		select {
		case reachedHold <- fb:
		default:
		}
		fb.YieldToHold()
		close(done)
	}))
	sched.Start()

	var held *Fiber
	select {
	case held = <-reachedHold:
	case <-time.After(5 * time.Second):
		t.Fatal("fiber never reached YieldToHold")
	}

	select {
	case <-done:
		t.Fatal("held fiber completed without being explicitly requeued")
	case <-time.After(50 * time.Millisecond):
	}

	sched.requeue(Task{fiber: held}, -1)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for explicitly requeued fiber to finish")
	}

	sched.Stop()
}

func Test_Scheduler_ScheduleBatchRunsAll(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(4, WithAutoStop(true))
	require.NoError(t, err)

	const n = 10
	done := make(chan int, n)
	tasks := make([]Task, n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = FuncTask(func() { done <- i })
	}
	sched.ScheduleBatch(tasks)
	sched.Start()

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		select {
		case v := <-done:
			seen[v] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d/%d tasks", len(seen), n)
		}
	}
	require.Len(t, seen, n)

	sched.Stop()
	sched.Wait()
}

func Test_Scheduler_MetricsTrackLifecycle(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(1, WithAutoStop(true), WithMetrics(true))
	require.NoError(t, err)
	require.NotNil(t, sched.Metrics())

	done := make(chan struct{})
	sched.Schedule(FuncTask(func() { close(done) }))
	sched.Start()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task")
	}
	sched.Stop()
	sched.Wait()

	require.Equal(t, uint64(1), sched.Metrics().TasksScheduled())
	require.Equal(t, uint64(1), sched.Metrics().FibersSpawned())
	require.Equal(t, uint64(1), sched.Metrics().FibersReaped())
}

func Test_Scheduler_WithCallerAsWorkerBlocksStartUntilStop(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(1, WithCallerAsWorker(), WithAutoStop(true))
	require.NoError(t, err)

	sched.Schedule(FuncTask(func() {
		sched.Stop()
	}))

	started := make(chan struct{})
	go func() {
		close(started)
		sched.Start()
	}()
	<-started

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start() with WithCallerAsWorker never returned after Stop")
	}
}
