package fiberloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func Test_Reactor_AddEvent_DoubleRegistrationPanics(t *testing.T) {
	t.Parallel()

	reactor, err := NewReactor(1)
	require.NoError(t, err)
	defer reactor.Close()

	rfd, _ := newTestPipe(t)

	require.NoError(t, reactor.AddEvent(rfd, EventRead, func() {}))
	defer reactor.CancelAll(rfd)

	require.PanicsWithValue(t, &ContractViolation{Op: "Reactor.AddEvent", Err: ErrEventAlreadyRegistered}, func() {
		_ = reactor.AddEvent(rfd, EventRead, func() {})
	})
}

func Test_Reactor_AddEvent_FiresCallbackOnReadability(t *testing.T) {
	t.Parallel()

	reactor, err := NewReactor(1)
	require.NoError(t, err)
	reactor.Start()
	defer reactor.Close()

	rfd, wfd := newTestPipe(t)

	fired := make(chan IOEvents, 1)
	require.NoError(t, reactor.AddEvent(rfd, EventRead, func() {
		select {
		case fired <- EventRead:
		default:
		}
	}))

	_, err = unix.Write(wfd, []byte("x"))
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("AddEvent callback never fired on readable fd")
	}
}

func Test_Reactor_DelEvent_RemovesWithoutFiring(t *testing.T) {
	t.Parallel()

	reactor, err := NewReactor(1)
	require.NoError(t, err)
	defer reactor.Close()

	rfd, _ := newTestPipe(t)

	require.NoError(t, reactor.AddEvent(rfd, EventRead, func() { t.Error("callback fired after DelEvent") }))
	if !reactor.DelEvent(rfd, EventRead) {
		t.Fatal("DelEvent returned false for a registered event")
	}
	if reactor.DelEvent(rfd, EventRead) {
		t.Fatal("DelEvent returned true for an already-removed event")
	}
}

func Test_Reactor_CancelEvent_FiresImmediately(t *testing.T) {
	t.Parallel()

	reactor, err := NewReactor(1)
	require.NoError(t, err)
	reactor.Start()
	defer reactor.Close()

	rfd, _ := newTestPipe(t)

	done := make(chan struct{})
	require.NoError(t, reactor.AddEvent(rfd, EventRead, func() { close(done) }))

	if !reactor.CancelEvent(rfd, EventRead) {
		t.Fatal("CancelEvent returned false for a registered event")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("CancelEvent did not trigger its continuation")
	}
}

func Test_Reactor_CancelAll_FiresBothDirections(t *testing.T) {
	t.Parallel()

	reactor, err := NewReactor(1)
	require.NoError(t, err)
	reactor.Start()
	defer reactor.Close()

	rfd, wfd := newTestPipe(t)

	readDone := make(chan struct{})
	writeDone := make(chan struct{})
	require.NoError(t, reactor.AddEvent(rfd, EventRead, func() { close(readDone) }))
	require.NoError(t, reactor.AddEvent(wfd, EventWrite, func() { close(writeDone) }))

	if !reactor.CancelAll(rfd) {
		t.Fatal("CancelAll(rfd) returned false")
	}
	if !reactor.CancelAll(wfd) {
		t.Fatal("CancelAll(wfd) returned false")
	}

	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
		t.Fatal("CancelAll did not trigger the read continuation")
	}
	select {
	case <-writeDone:
	case <-time.After(5 * time.Second):
		t.Fatal("CancelAll did not trigger the write continuation")
	}
}

func Test_Reactor_CancelAll_FalseWhenNothingRegistered(t *testing.T) {
	t.Parallel()

	reactor, err := NewReactor(1)
	require.NoError(t, err)
	defer reactor.Close()

	rfd, _ := newTestPipe(t)
	if reactor.CancelAll(rfd) {
		t.Fatal("CancelAll on an fd with nothing registered returned true")
	}
}

func Test_Reactor_Quiescent_ReflectsPendingEventsAndTimers(t *testing.T) {
	t.Parallel()

	reactor, err := NewReactor(1)
	require.NoError(t, err)
	defer reactor.Close()

	if !reactor.quiescent() {
		t.Fatal("quiescent() = false on a freshly built reactor")
	}

	rfd, _ := newTestPipe(t)
	require.NoError(t, reactor.AddEvent(rfd, EventRead, func() {}))
	if reactor.quiescent() {
		t.Fatal("quiescent() = true with a pending event registered")
	}
	reactor.CancelAll(rfd)
	if !reactor.quiescent() {
		t.Fatal("quiescent() = false after CancelAll removed the only pending event")
	}

	handle := reactor.AddTimer(time.Hour, func() {}, false)
	if reactor.quiescent() {
		t.Fatal("quiescent() = true with a pending timer registered")
	}
	handle.Cancel()
	if !reactor.quiescent() {
		t.Fatal("quiescent() = false after canceling the only pending timer")
	}
}

func Test_Reactor_StopWaitsForQuiescence(t *testing.T) {
	t.Parallel()

	reactor, err := NewReactor(1, WithAutoStop(true))
	require.NoError(t, err)
	reactor.Start()

	rfd, wfd := newTestPipe(t)

	done := make(chan struct{})
	require.NoError(t, reactor.AddEvent(rfd, EventRead, func() { close(done) }))

	reactor.Stop()

	// The reactor must not report itself stoppable while the read event is
	// still outstanding.
	select {
	case <-done:
		t.Fatal("event fired before being made ready, want it to wait")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = unix.Write(wfd, []byte("x"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pending event never fired after becoming ready")
	}

	require.NoError(t, reactor.Close())
}
