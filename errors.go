package fiberloop

import (
	"errors"
	"fmt"
)

// ErrTimeout is a sentinel for timed-out operations. The hooked I/O calls
// and Connect do not return it: they report an elapsed per-fd or connect
// deadline as unix.ETIMEDOUT.
var ErrTimeout = errors.New("fiberloop: operation timed out")

// ErrClosed is the cause wrapped in the ContractViolation error that
// [Reactor.AddEvent] returns when called with a nil cb from a goroutine
// that is not running a fiber. No other operation returns it.
var ErrClosed = errors.New("fiberloop: closed")

// ErrEventAlreadyRegistered is the cause wrapped by the ContractViolation
// [Reactor.AddEvent] panics with when a direction is registered twice on
// the same fd without an intervening DelEvent/CancelEvent/fire.
var ErrEventAlreadyRegistered = errors.New("fiberloop: event already registered")

// ContractViolation reports a programming error detected at runtime:
// registering the same direction of an fd twice, resuming a fiber that is
// not runnable, recycling one that has not terminated, scheduling a zero
// Task, constructing a Scheduler with fewer than one worker, looking up a
// config name under a different type, and similar invariant breaks that a
// caller should never be able to trigger by valid use of the public API. Unlike SyscallError, a ContractViolation is not
// expected to be handled — callers fix the calling code instead.
type ContractViolation struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ContractViolation) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fiberloop: contract violation: %s", e.Op)
	}
	return fmt.Sprintf("fiberloop: contract violation: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ContractViolation) Unwrap() error {
	return e.Err
}

// SyscallError reports a recoverable failure from an underlying POSIX
// syscall made on behalf of a fiber (accept, read, write, connect, ...).
// Fd is -1 when the failing call was not fd-scoped (e.g. Socket).
type SyscallError struct {
	Op  string
	Fd  int
	Err error
}

// Error implements the error interface.
func (e *SyscallError) Error() string {
	if e.Fd >= 0 {
		return fmt.Sprintf("fiberloop: %s(fd=%d): %v", e.Op, e.Fd, e.Err)
	}
	return fmt.Sprintf("fiberloop: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
// Because hooked syscalls wrap raw unix.Errno values, errors.Is(err,
// unix.ETIMEDOUT) and similar checks work transparently through a
// SyscallError.
func (e *SyscallError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with a message, preserving the cause chain so
// errors.Is/errors.As still see through it.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// newSyscallError constructs a SyscallError, or returns nil if err is nil,
// so call sites can write `return newSyscallError(...)` unconditionally.
func newSyscallError(op string, fd int, err error) error {
	if err == nil {
		return nil
	}
	return &SyscallError{Op: op, Fd: fd, Err: err}
}

func newContractViolation(op string, err error) error {
	return &ContractViolation{Op: op, Err: err}
}
