package fiberloop

import "golang.org/x/sys/unix"

// Read mirrors read(2): suspends the calling fiber on EAGAIN until fd is
// readable or its RcvTimeout elapses.
func Read(fd int, p []byte) (int, error) {
	n, err := doIO(fd, EventRead, "Read", RcvTimeout, func() (int, error) {
		return unix.Read(fd, p)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Readv mirrors readv(2) over a scatter list of buffers.
func Readv(fd int, iovs [][]byte) (int, error) {
	n, err := doIO(fd, EventRead, "Readv", RcvTimeout, func() (int, error) {
		return unix.Readv(fd, iovs)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Recv mirrors recv(2).
func Recv(fd int, p []byte, flags int) (int, error) {
	n, err := doIO(fd, EventRead, "Recv", RcvTimeout, func() (int, error) {
		n, _, err := unix.Recvfrom(fd, p, flags)
		return n, err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// recvFromResult bundles recvfrom(2)'s two return values so doIO's
// single-R generic signature can carry both through the retry loop.
type recvFromResult struct {
	n    int
	from unix.Sockaddr
}

// RecvFrom mirrors recvfrom(2).
func RecvFrom(fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	res, err := doIO(fd, EventRead, "RecvFrom", RcvTimeout, func() (recvFromResult, error) {
		n, from, err := unix.Recvfrom(fd, p, flags)
		return recvFromResult{n: n, from: from}, err
	})
	if err != nil {
		return 0, nil, err
	}
	return res.n, res.from, nil
}

type recvMsgResult struct {
	n, oobn, recvflags int
	from               unix.Sockaddr
}

// RecvMsg mirrors recvmsg(2).
func RecvMsg(fd int, p, oob []byte, flags int) (n, oobn, recvflags int, from unix.Sockaddr, err error) {
	res, err := doIO(fd, EventRead, "RecvMsg", RcvTimeout, func() (recvMsgResult, error) {
		n, oobn, recvflags, from, err := unix.Recvmsg(fd, p, oob, flags)
		return recvMsgResult{n: n, oobn: oobn, recvflags: recvflags, from: from}, err
	})
	if err != nil {
		return 0, 0, 0, nil, err
	}
	return res.n, res.oobn, res.recvflags, res.from, nil
}

// Write mirrors write(2): suspends the calling fiber on EAGAIN until fd
// is writable or its SndTimeout elapses.
func Write(fd int, p []byte) (int, error) {
	n, err := doIO(fd, EventWrite, "Write", SndTimeout, func() (int, error) {
		return unix.Write(fd, p)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Writev mirrors writev(2) over a gather list of buffers.
func Writev(fd int, iovs [][]byte) (int, error) {
	n, err := doIO(fd, EventWrite, "Writev", SndTimeout, func() (int, error) {
		return unix.Writev(fd, iovs)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Send mirrors send(2), implemented as sendto(2) with a nil destination
// since golang.org/x/sys/unix exposes no bare send() wrapper.
func Send(fd int, p []byte, flags int) (int, error) {
	n, err := doIO(fd, EventWrite, "Send", SndTimeout, func() (int, error) {
		return len(p), unix.Sendto(fd, p, flags, nil)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SendTo mirrors sendto(2).
func SendTo(fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	n, err := doIO(fd, EventWrite, "SendTo", SndTimeout, func() (int, error) {
		return len(p), unix.Sendto(fd, p, flags, to)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SendMsg mirrors sendmsg(2).
func SendMsg(fd int, p, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	n, err := doIO(fd, EventWrite, "SendMsg", SndTimeout, func() (int, error) {
		return unix.SendmsgN(fd, p, oob, to, flags)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
