package fiberloop

import "testing"

func Test_FiberState_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state FiberState
		want  string
	}{
		{StateInit, "Init"},
		{StateReady, "Ready"},
		{StateHold, "Hold"},
		{StateExec, "Exec"},
		{StateTerm, "Term"},
		{StateExcept, "Except"},
		{FiberState(99), "Unknown"},
	}

	for _, c := range cases {
		t.Run(c.want, func(t *testing.T) {
			t.Parallel()
			if got := c.state.String(); got != c.want {
				t.Errorf("String() = %q, want %q", got, c.want)
			}
		})
	}
}

func Test_FiberState_Runnable(t *testing.T) {
	t.Parallel()

	for _, s := range []FiberState{StateInit, StateReady, StateHold} {
		if !s.Runnable() {
			t.Errorf("%s.Runnable() = false, want true", s)
		}
	}
	for _, s := range []FiberState{StateExec, StateTerm, StateExcept} {
		if s.Runnable() {
			t.Errorf("%s.Runnable() = true, want false", s)
		}
	}
}

func Test_FiberState_Reapable(t *testing.T) {
	t.Parallel()

	for _, s := range []FiberState{StateTerm, StateExcept} {
		if !s.Reapable() {
			t.Errorf("%s.Reapable() = false, want true", s)
		}
	}
	for _, s := range []FiberState{StateInit, StateReady, StateHold, StateExec} {
		if s.Reapable() {
			t.Errorf("%s.Reapable() = true, want false", s)
		}
	}
}

func Test_fastState_LoadStore(t *testing.T) {
	t.Parallel()

	s := newFastState(StateInit)
	if got := s.Load(); got != StateInit {
		t.Fatalf("Load() = %s, want Init", got)
	}
	s.Store(StateTerm)
	if got := s.Load(); got != StateTerm {
		t.Fatalf("Load() = %s, want Term", got)
	}
}

func Test_fastState_TryTransition(t *testing.T) {
	t.Parallel()

	s := newFastState(StateInit)
	if !s.TryTransition(StateInit, StateExec) {
		t.Fatal("TryTransition(Init->Exec) = false, want true")
	}
	if s.Load() != StateExec {
		t.Fatalf("Load() = %s, want Exec", s.Load())
	}
	if s.TryTransition(StateInit, StateReady) {
		t.Fatal("TryTransition(Init->Ready) = true from Exec, want false")
	}
	if !s.TryTransition(StateExec, StateHold) {
		t.Fatal("TryTransition(Exec->Hold) = false, want true")
	}
}
