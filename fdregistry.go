package fiberloop

import (
	"sync"
	"time"
)

// TimeoutKind selects which of an FdState's two deadlines a SetTimeout or
// Timeout call refers to, mirroring FdCtx::setTimeout/getTimeout's
// SO_RCVTIMEO/SO_SNDTIMEO distinction.
type TimeoutKind int

const (
	RcvTimeout TimeoutKind = iota
	SndTimeout
)

// FdState is the hook layer's per-fd bookkeeping: whether fd is a socket
// worth intercepting at all, whether the application itself asked for
// non-blocking mode (in which case hooked calls must not hide EAGAIN from
// it), and the read/write deadlines set via SetsockoptInt. Grounded on
// sylar's FdCtx; fields not reachable from Go's socket API (a distinct
// isInit bit) are folded into zero-value-means-uninitialized instead.
type FdState struct {
	mu sync.Mutex
	fd int

	isSocket bool
	isClosed bool

	sysNonblock  bool // the hook layer put fd in non-blocking mode itself
	userNonblock bool // what the application asked for, independent of the above

	recvTimeout time.Duration
	sendTimeout time.Duration
}

// IsSocket reports whether fd was registered as a socket (via [Socket] or
// [Accept]); non-socket fds always pass through hooked calls unhooked.
func (s *FdState) IsSocket() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSocket
}

// IsClosed reports whether Close has already been called for this fd.
func (s *FdState) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// SetSystemNonblock records whether the kernel-level O_NONBLOCK bit is
// set. The hook layer always sets this true for sockets it registers,
// regardless of what the caller asked for.
func (s *FdState) SetSystemNonblock(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysNonblock = v
}

// SystemNonblock reports the kernel-level non-blocking flag.
func (s *FdState) SystemNonblock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sysNonblock
}

// SetUserNonblock records what the caller most recently asked for via
// Fcntl(fd, F_SETFL, ...), independent of the kernel-level flag
// maintained via SetSystemNonblock.
func (s *FdState) SetUserNonblock(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userNonblock = v
}

// UserNonblock reports what Fcntl(fd, F_GETFL, ...) should answer for
// O_NONBLOCK, honoring the round-trip idempotence the caller expects
// regardless of the fd's real kernel-level setting.
func (s *FdState) UserNonblock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userNonblock
}

// SetTimeout sets fd's recv or send deadline, as set via
// [SetsockoptInt](fd, SOL_SOCKET, SO_RCVTIMEO/SO_SNDTIMEO, ...).
func (s *FdState) SetTimeout(which TimeoutKind, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch which {
	case RcvTimeout:
		s.recvTimeout = d
	case SndTimeout:
		s.sendTimeout = d
	}
}

// Timeout returns fd's recv or send deadline, zero meaning "no timeout".
func (s *FdState) Timeout(which TimeoutKind) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch which {
	case RcvTimeout:
		return s.recvTimeout
	case SndTimeout:
		return s.sendTimeout
	}
	return 0
}

// fdRegistry tracks FdState for every fd the hook layer has seen, created
// lazily on first touch. Grounded on sylar's FdManager: a mutex-guarded,
// growable-by-index table with get(fd, autoCreate) and del(fd), here
// backed by a map since Go fds are not guaranteed small/dense the way a
// freshly-socket()'d fd usually is in the original's single-process model.
type fdRegistry struct {
	mu    sync.RWMutex
	table map[int]*FdState
}

func newFDRegistry() *fdRegistry {
	return &fdRegistry{table: make(map[int]*FdState)}
}

// get returns the FdState for fd, creating one if autoCreate is true and
// none exists yet; otherwise it reports ok=false for an unknown fd.
func (r *fdRegistry) get(fd int, autoCreate bool) (state *FdState, ok bool) {
	r.mu.RLock()
	s, found := r.table[fd]
	r.mu.RUnlock()
	if found {
		return s, true
	}
	if !autoCreate {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, found = r.table[fd]; found {
		return s, true
	}
	s = &FdState{fd: fd}
	r.table[fd] = s
	return s, true
}

// del drops fd's state, e.g. once it has been closed.
func (r *fdRegistry) del(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.table, fd)
}

// defaultFdRegistry is the process-wide fd state table used by the hook
// layer. Grounded on sylar's FdMgr Singleton<FdManager>; a single hooked
// process has exactly one fd namespace regardless of how many Reactors it
// runs, so this mirrors that rather than being per-Reactor. Package-level
// var (not a const) so tests can swap it out for an isolated instance.
var defaultFdRegistry = newFDRegistry()

// GetFDState returns the registry entry for fd, creating one if
// autoCreate is true.
func GetFDState(fd int, autoCreate bool) (*FdState, bool) {
	return defaultFdRegistry.get(fd, autoCreate)
}

// DeleteFDState removes fd's registry entry.
func DeleteFDState(fd int) {
	defaultFdRegistry.del(fd)
}
