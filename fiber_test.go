package fiberloop

import (
	"strings"
	"testing"
)

func Test_Fiber_ResumeRunsEntryToCompletion(t *testing.T) {
	t.Parallel()

	var ran bool
	f := Spawn(func(*Fiber) { ran = true })

	alive := f.Resume()
	if alive {
		t.Fatal("Resume() = true, want false after entry returns")
	}
	if !ran {
		t.Fatal("entry function did not run")
	}
	if got := f.State(); got != StateTerm {
		t.Fatalf("State() = %s, want Term", got)
	}
}

func Test_Fiber_YieldToReadySuspendsAndResumes(t *testing.T) {
	t.Parallel()

	var steps []string
	f := Spawn(func(fb *Fiber) {
		steps = append(steps, "first")
		fb.YieldToReady()
		steps = append(steps, "second")
	})

	alive := f.Resume()
	if !alive {
		t.Fatal("Resume() = false after YieldToReady, want true")
	}
	if got := f.State(); got != StateReady {
		t.Fatalf("State() = %s, want Ready", got)
	}

	alive = f.Resume()
	if alive {
		t.Fatal("Resume() = true after entry returned, want false")
	}
	if got := strings.Join(steps, ","); got != "first,second" {
		t.Fatalf("steps = %q, want %q", got, "first,second")
	}
}

func Test_Fiber_YieldToHoldSuspendsUntilExplicitResume(t *testing.T) {
	t.Parallel()

	f := Spawn(func(fb *Fiber) {
		fb.YieldToHold()
	})

	alive := f.Resume()
	if !alive {
		t.Fatal("Resume() = false after YieldToHold, want true")
	}
	if got := f.State(); got != StateHold {
		t.Fatalf("State() = %s, want Hold", got)
	}

	alive = f.Resume()
	if alive {
		t.Fatal("Resume() = true after entry returned, want false")
	}
}

func Test_Fiber_ResumeFromNonRunnableStatePanics(t *testing.T) {
	t.Parallel()

	f := Spawn(func(*Fiber) {})
	f.Resume() // drives it to StateTerm

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Resume() on a terminated fiber did not panic")
		}
		if _, ok := r.(*ContractViolation); !ok {
			t.Fatalf("panic value = %#v, want *ContractViolation", r)
		}
	}()
	f.Resume()
}

func Test_Fiber_EntryPanicSetsStateExcept(t *testing.T) {
	t.Parallel()

	f := Spawn(func(*Fiber) {
		panic("boom")
	})

	alive := f.Resume()
	if alive {
		t.Fatal("Resume() = true after entry panicked, want false")
	}
	if got := f.State(); got != StateExcept {
		t.Fatalf("State() = %s, want Except", got)
	}
}

func Test_Fiber_RecyclePanicsUnlessReapable(t *testing.T) {
	t.Parallel()

	f := Spawn(func(fb *Fiber) {
		fb.YieldToHold()
	})
	f.Resume() // now in StateHold, not reapable

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Recycle() on a held fiber did not panic")
		}
		if _, ok := r.(*ContractViolation); !ok {
			t.Fatalf("panic value = %#v, want *ContractViolation", r)
		}
	}()
	f.Recycle(func(*Fiber) {})
}

func Test_Fiber_RecycleRestartsAfterTermination(t *testing.T) {
	t.Parallel()

	f := Spawn(func(*Fiber) {})
	f.Resume()
	if got := f.State(); got != StateTerm {
		t.Fatalf("State() = %s, want Term", got)
	}

	var ranSecond bool
	f.Recycle(func(*Fiber) { ranSecond = true })
	if got := f.State(); got != StateInit {
		t.Fatalf("State() after Recycle = %s, want Init", got)
	}

	f.Resume()
	if !ranSecond {
		t.Fatal("recycled entry did not run")
	}
}

func Test_Fiber_IDStableAcrossRecycle(t *testing.T) {
	t.Parallel()

	f := Spawn(func(*Fiber) {})
	id := f.ID()
	f.Resume()
	f.Recycle(func(*Fiber) {})
	if f.ID() != id {
		t.Fatalf("ID() after Recycle = %d, want %d", f.ID(), id)
	}
}

func Test_CurrentFiber_ReflectsRunningFiber(t *testing.T) {
	t.Parallel()

	if CurrentFiber() != nil {
		t.Fatal("CurrentFiber() != nil outside any fiber")
	}

	var seen *Fiber
	f := Spawn(func(fb *Fiber) {
		seen = CurrentFiber()
	})
	f.Resume()

	if seen != f {
		t.Fatalf("CurrentFiber() inside entry = %p, want %p", seen, f)
	}
	if CurrentFiber() != nil {
		t.Fatal("CurrentFiber() != nil after Resume returned to caller goroutine")
	}
}
