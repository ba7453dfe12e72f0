//go:build darwin || freebsd

package evcore

import (
	"time"

	"golang.org/x/sys/unix"
)

// rawKqueue mirrors rawEpoll for the BSD/darwin fallback backend.
type rawKqueue struct {
	fd int
}

func newRawKqueue() (*rawKqueue, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &rawKqueue{fd: fd}, nil
}

func (k *rawKqueue) register(fd int32, filter int16, flags uint16) error {
	changes := [1]unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
	}}
	_, err := unix.Kevent(k.fd, changes[:], nil, nil)
	return err
}

func (k *rawKqueue) wait(events []unix.Kevent_t, timeout time.Duration, hasTimeout bool) (int, error) {
	var ts *unix.Timespec
	if hasTimeout {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	return unix.Kevent(k.fd, nil, events, ts)
}

func (k *rawKqueue) close() error {
	return unix.Close(k.fd)
}
