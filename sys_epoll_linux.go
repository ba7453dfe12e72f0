//go:build linux

package evcore

import (
	"golang.org/x/sys/unix"
)

// rawEpoll is the thinnest possible wrapper over the three epoll
// syscalls, kept separate from backend_epoll.go so the
// translation/error-recovery logic reads without syscall noise mixed
// in.
type rawEpoll struct {
	fd int
}

func newRawEpoll() (*rawEpoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &rawEpoll{fd: fd}, nil
}

func (e *rawEpoll) ctl(op int, fd int32, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: fd}
	return unix.EpollCtl(e.fd, op, int(fd), &ev)
}

func (e *rawEpoll) wait(events []unix.EpollEvent, timeoutMS int) (int, error) {
	return unix.EpollWait(e.fd, events, timeoutMS)
}

func (e *rawEpoll) close() error {
	return unix.Close(e.fd)
}
