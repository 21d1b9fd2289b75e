package fiberloop

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the numeric id from the current goroutine's stack
// trace header ("goroutine 123 [running]:"). This is the dependency-free
// substitute for a thread-local: Go offers no supported API to read the
// scheduler's internal goroutine id, and no example in this codebase's
// retrieval pack ships a usable third-party implementation (the sibling
// goroutineid module is an empty stub). The cost is one small stack
// capture and a byte scan per call, paid only on the hook/fiber slow
// paths that need it, never in the poll loop itself.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]

	sp := bytes.IndexByte(b, ' ')
	if sp < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(b[:sp]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// goroutineLocal is a generic per-goroutine value store, keyed by
// goroutineID. It backs CurrentFiber, CurrentScheduler, CurrentReactor,
// and the hook-enabled flag.
type goroutineLocal[T any] struct {
	mu     sync.RWMutex
	values map[int64]T
}

func newGoroutineLocal[T any]() *goroutineLocal[T] {
	return &goroutineLocal[T]{values: make(map[int64]T)}
}

func (g *goroutineLocal[T]) get() (T, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.values[goroutineID()]
	return v, ok
}

func (g *goroutineLocal[T]) set(v T) {
	id := goroutineID()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[id] = v
}

func (g *goroutineLocal[T]) clear() {
	id := goroutineID()
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.values, id)
}

var (
	currentFiberLocal     = newGoroutineLocal[*Fiber]()
	currentSchedulerLocal = newGoroutineLocal[*Scheduler]()
	hookEnabledLocal      = newGoroutineLocal[bool]()
)

// CurrentFiber returns the Fiber running on the calling goroutine, or nil
// if the calling goroutine is not a fiber (e.g. the process's initial
// goroutine before any Spawn).
func CurrentFiber() *Fiber {
	f, _ := currentFiberLocal.get()
	return f
}

// CurrentScheduler returns the Scheduler that resumed the fiber running
// on the calling goroutine, or nil outside a fiber (or inside a fiber
// that was resumed without going through a Scheduler). Grounded on the
// original's Scheduler::GetThis() thread-local.
func CurrentScheduler() *Scheduler {
	s, _ := currentSchedulerLocal.get()
	return s
}

// CurrentReactor returns the Reactor that owns the current fiber's
// Scheduler, or nil if there is no current fiber or its Scheduler is a
// plain Scheduler rather than one constructed via NewReactor. Grounded on
// the original's IOManager::GetThis(), implemented as a dynamic downcast;
// here the Scheduler simply remembers the Reactor that wraps it.
func CurrentReactor() *Reactor {
	s := CurrentScheduler()
	if s == nil {
		return nil
	}
	return s.reactor
}

// SetHookEnabled toggles whether hooked syscalls on the calling goroutine
// suspend the current fiber on would-block instead of blocking the OS
// thread. The flag is recorded for any goroutine, but hooked calls on a
// goroutine that is not running a fiber under a Reactor still pass straight
// through to the plain syscall.
func SetHookEnabled(enabled bool) {
	if enabled {
		hookEnabledLocal.set(true)
	} else {
		hookEnabledLocal.clear()
	}
}

// HookEnabled reports whether hooked syscalls are currently active on the
// calling goroutine.
func HookEnabled() bool {
	v, _ := hookEnabledLocal.get()
	return v
}
