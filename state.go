package fiberloop

import (
	"sync/atomic"
)

// FiberState represents the current state of a Fiber.
//
// State Machine:
//
//	StateInit (0)   → StateExec (3)    [Resume]
//	StateExec (3)   → StateReady (1)   [YieldToReady]
//	StateReady (1)  → StateExec (3)    [Resume]
//	StateExec (3)   → StateHold (2)    [YieldToHold]
//	StateHold (2)   → StateExec (3)    [Resume]
//	StateExec (3)   → StateTerm (4)    [entry returns]
//	StateExec (3)   → StateExcept (5)  [entry panics]
//	StateTerm/StateExcept → StateInit  [Recycle]
//
// State Transition Rules:
//   - Resume uses TryTransition() (CAS) to move a runnable fiber to Exec
//   - Store() is used by the fiber's own goroutine for Ready/Hold when it
//     yields and for Term/Except on its way out, and by Recycle to return
//     a terminated fiber to Init
//   - Calling Store(Exec) from outside the fiber's own goroutine is a bug
type FiberState uint64

const (
	// StateInit indicates the fiber has been constructed but never resumed.
	StateInit FiberState = 0
	// StateReady indicates the fiber yielded cooperatively and is runnable.
	StateReady FiberState = 1
	// StateHold indicates the fiber is suspended pending an external event
	// (I/O readiness, timer fire, or explicit reschedule).
	StateHold FiberState = 2
	// StateExec indicates the fiber is currently on-CPU.
	StateExec FiberState = 3
	// StateTerm indicates the fiber's entry function returned normally.
	StateTerm FiberState = 4
	// StateExcept indicates the fiber's entry function panicked.
	StateExcept FiberState = 5
)

// String returns a human-readable representation of the state.
func (s FiberState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReady:
		return "Ready"
	case StateHold:
		return "Hold"
	case StateExec:
		return "Exec"
	case StateTerm:
		return "Term"
	case StateExcept:
		return "Except"
	default:
		return "Unknown"
	}
}

// Runnable reports whether a fiber in this state is eligible for Resume.
func (s FiberState) Runnable() bool {
	return s == StateInit || s == StateReady || s == StateHold
}

// Reapable reports whether the fiber's goroutine has exited and its
// handshake channels may be discarded, or the fiber recycled.
func (s FiberState) Reapable() bool {
	return s == StateTerm || s == StateExcept
}

// fastState is a lock-free state machine with cache-line padding, so a
// Fiber's state can be read by the scheduler without contending with the
// fiber's own goroutine performing a transition.
type fastState struct { // betteralign:ignore
	_ [64]byte      // cache line padding (before value) //nolint:unused
	v atomic.Uint64 // state value
	_ [56]byte      // pad to complete cache line //nolint:unused
}

// newFastState creates a new state machine in the given initial state.
func newFastState(initial FiberState) *fastState {
	s := &fastState{}
	s.v.Store(uint64(initial))
	return s
}

// Load returns the current state atomically.
func (s *fastState) Load() FiberState {
	return FiberState(s.v.Load())
}

// Store atomically stores a new state without checking the current one.
// Used for the yield and exit transitions taken from the fiber's own
// goroutine, and by Recycle once the fiber has terminated.
func (s *fastState) Store(state FiberState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *fastState) TryTransition(from, to FiberState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
