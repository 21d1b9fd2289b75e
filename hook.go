package fiberloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// doIO implements the hook layer's core suspend-on-would-block protocol.
// call performs the underlying syscall once; doIO retries it according to
// the steps below whenever hooking applies.
//
// Grounded on sylar's do_io template in hook.cpp:
//  1. If hooking is disabled for the calling goroutine, fd is unknown to
//     the registry, fd is closed, fd is not a socket, or the caller set
//     O_NONBLOCK itself, call once and return.
//  2. Otherwise call; on EINTR retry immediately; on anything but EAGAIN
//     return.
//  3. On EAGAIN: register ev with the current fiber as continuation. If
//     fd has a configured timeout for kind, arm a timer that marks the
//     call timed out and cancels the event when it's the one to fire
//     first; otherwise cancel the timer when the event fires first.
//  4. YieldToHold.
//  5. On resume: if the timer fired first, return ETIMEDOUT; otherwise
//     loop to step 2.
func doIO[R any](fd int, ev IOEvents, op string, kind TimeoutKind, call func() (R, error)) (R, error) {
	var zero R

	if !HookEnabled() {
		return call()
	}
	state, ok := GetFDState(fd, false)
	if !ok || state.IsClosed() || !state.IsSocket() || state.UserNonblock() {
		return call()
	}
	reactor := CurrentReactor()
	fiber := CurrentFiber()
	if reactor == nil || fiber == nil {
		return call()
	}

	for {
		r, err := call()
		if err == nil {
			return r, nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN {
			return zero, err
		}

		timedOut := false
		var timer *TimerHandle
		if d := state.Timeout(kind); d > 0 {
			timer = reactor.AddTimer(d, func() {
				timedOut = true
				reactor.CancelEvent(fd, ev)
			}, false)
		}

		if err := reactor.AddEvent(fd, ev, nil); err != nil {
			if timer != nil {
				timer.Cancel()
			}
			return zero, newSyscallError(op, fd, err)
		}

		fiber.YieldToHold()

		if timer != nil {
			timer.Cancel()
		}
		if timedOut {
			return zero, unix.ETIMEDOUT
		}
	}
}

// Socket creates a socket and registers it with the fd registry so
// subsequent hooked calls against it suspend instead of blocking. The
// kernel-level fd is always put in non-blocking mode; Fcntl/Ioctl make it
// look blocking to a caller that never asked for O_NONBLOCK.
func Socket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, newSyscallError("Socket", -1, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, newSyscallError("Socket", fd, err)
	}
	state, _ := GetFDState(fd, true)
	state.isSocket = true
	state.SetSystemNonblock(true)
	return fd, nil
}

// Accept accepts a connection on a hooked listening socket, suspending
// the calling fiber until one arrives (or the listener's timeout
// elapses), and registers the accepted fd the same way Socket does.
func Accept(fd int) (int, unix.Sockaddr, error) {
	var peer unix.Sockaddr
	nfd, err := doIO(fd, EventRead, "Accept", RcvTimeout, func() (int, error) {
		nfd, sa, err := unix.Accept(fd)
		peer = sa
		return nfd, err
	})
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, nil, newSyscallError("Accept", nfd, err)
	}
	state, _ := GetFDState(nfd, true)
	state.isSocket = true
	state.SetSystemNonblock(true)
	return nfd, peer, nil
}

// Connect issues a non-blocking connect against fd and suspends the
// calling fiber until it completes, the tcp.connect.timeout config value
// elapses, or it fails. Grounded on sylar's connect_with_timeout: a non-blocking
// connect typically returns EINPROGRESS rather than EAGAIN, so Connect
// has its own protocol rather than reusing doIO directly.
func Connect(fd int, sa unix.Sockaddr) error {
	return ConnectWithTimeout(fd, sa, time.Duration(tcpConnectTimeoutMs.Value())*time.Millisecond)
}

// ConnectWithTimeout is Connect with an explicit timeout instead of the
// tcp.connect.timeout config default.
func ConnectWithTimeout(fd int, sa unix.Sockaddr, timeout time.Duration) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS {
		return newSyscallError("Connect", fd, err)
	}

	if !HookEnabled() {
		return newSyscallError("Connect", fd, err)
	}
	state, ok := GetFDState(fd, false)
	if !ok || state.IsClosed() || !state.IsSocket() {
		return newSyscallError("Connect", fd, err)
	}
	reactor := CurrentReactor()
	fiber := CurrentFiber()
	if reactor == nil || fiber == nil {
		return newSyscallError("Connect", fd, err)
	}

	timedOut := false
	var timer *TimerHandle
	if timeout > 0 {
		timer = reactor.AddTimer(timeout, func() {
			timedOut = true
			reactor.CancelEvent(fd, EventWrite)
		}, false)
	}

	if err := reactor.AddEvent(fd, EventWrite, nil); err != nil {
		if timer != nil {
			timer.Cancel()
		}
		return newSyscallError("Connect", fd, err)
	}

	fiber.YieldToHold()

	if timer != nil {
		timer.Cancel()
	}
	if timedOut {
		return unix.ETIMEDOUT
	}

	soErr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return newSyscallError("Connect", fd, gerr)
	}
	if soErr != 0 {
		return newSyscallError("Connect", fd, unix.Errno(soErr))
	}
	return nil
}

// Close cancels every pending continuation registered on fd (so nothing
// waits forever on an fd that will never fire again), drops its registry
// entry, and closes the underlying fd. Grounded on sylar's hooked close.
func Close(fd int) error {
	if reactor := CurrentReactor(); reactor != nil {
		reactor.CancelAll(fd)
	}
	if st, ok := GetFDState(fd, false); ok {
		st.mu.Lock()
		st.isClosed = true
		st.mu.Unlock()
	}
	DeleteFDState(fd)
	if err := unix.Close(fd); err != nil {
		return newSyscallError("Close", fd, err)
	}
	return nil
}

// Fcntl mirrors fcntl(2), maintaining the user-vs-system nonblock
// distinction: F_SETFL(O_NONBLOCK) only updates what the caller believes
// the fd's mode is, while the kernel-level fd managed by a hooked socket
// always stays non-blocking; F_GETFL reports the caller's last-requested
// view rather than the kernel's actual flags.
func Fcntl(fd int, cmd int, arg int) (int, error) {
	state, ok := GetFDState(fd, false)
	if !ok || !state.IsSocket() {
		r, err := unix.FcntlInt(uintptr(fd), cmd, arg)
		if err != nil {
			return -1, newSyscallError("Fcntl", fd, err)
		}
		return r, nil
	}

	switch cmd {
	case unix.F_SETFL:
		state.SetUserNonblock(arg&unix.O_NONBLOCK != 0)
		return 0, nil
	case unix.F_GETFL:
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err != nil {
			return -1, newSyscallError("Fcntl", fd, err)
		}
		if state.UserNonblock() {
			flags |= unix.O_NONBLOCK
		} else {
			flags &^= unix.O_NONBLOCK
		}
		return flags, nil
	default:
		r, err := unix.FcntlInt(uintptr(fd), cmd, arg)
		if err != nil {
			return -1, newSyscallError("Fcntl", fd, err)
		}
		return r, nil
	}
}

// Ioctl mirrors ioctl(2) for FIONBIO, the only command the original hooks
// specially; every other request passes straight through.
func Ioctl(fd int, req uint, arg int) error {
	if req == unix.FIONBIO {
		state, ok := GetFDState(fd, false)
		if ok && state.IsSocket() {
			state.SetUserNonblock(arg != 0)
			return nil
		}
	}
	if err := unix.IoctlSetInt(fd, req, arg); err != nil {
		return newSyscallError("Ioctl", fd, err)
	}
	return nil
}

// GetsockoptInt is a direct pass-through to getsockopt(2); the original
// hooks it only to keep the HOOK_FUN list symmetric, with no special
// behavior.
func GetsockoptInt(fd, level, opt int) (int, error) {
	v, err := unix.GetsockoptInt(fd, level, opt)
	if err != nil {
		return 0, newSyscallError("GetsockoptInt", fd, err)
	}
	return v, nil
}

// SetsockoptInt mirrors setsockopt(2), with SO_RCVTIMEO/SO_SNDTIMEO
// intercepted: rather than handing a deadline to the kernel (which would
// fight with the fd's always-non-blocking kernel mode), it updates the
// fd's registry timeout, consulted by doIO on the next would-block.
// value is interpreted as milliseconds for the two timeout options.
func SetsockoptInt(fd, level, opt, value int) error {
	if level == unix.SOL_SOCKET && (opt == unix.SO_RCVTIMEO || opt == unix.SO_SNDTIMEO) {
		state, ok := GetFDState(fd, false)
		if ok {
			kind := RcvTimeout
			if opt == unix.SO_SNDTIMEO {
				kind = SndTimeout
			}
			state.SetTimeout(kind, time.Duration(value)*time.Millisecond)
			return nil
		}
	}
	if err := unix.SetsockoptInt(fd, level, opt, value); err != nil {
		return newSyscallError("SetsockoptInt", fd, err)
	}
	return nil
}
