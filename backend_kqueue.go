//go:build darwin || freebsd

package evcore

import (
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	RegisterBackend("kqueue", newKqueueBackend)
}

const (
	initialKqueueBuf = 32
	maxKqueueBuf     = 4096
)

// kqueueBackend is the non-Linux fallback Backend implementation. It
// does not advertise CapNeedReinit — unlike epoll, a kqueue
// descriptor survives fork in the child — and it reports
// CapEarlyClose via EV_EOF on its read or write filter, which it folds
// into CLOSED.
type kqueueBackend struct {
	base   *Base
	raw    *rawKqueue
	events []unix.Kevent_t
}

func newKqueueBackend(base *Base) (Backend, error) {
	raw, err := newRawKqueue()
	if err != nil {
		return nil, newError(KindExhausted, "kqueue", err)
	}
	return &kqueueBackend{base: base, raw: raw, events: make([]unix.Kevent_t, initialKqueueBuf)}, nil
}

func (b *kqueueBackend) Name() string { return "kqueue" }

func (b *kqueueBackend) Caps() BackendCaps {
	return CapO1 | CapEarlyClose
}

func (b *kqueueBackend) Add(fd int32, oldMask, newMask EventFlags) error {
	return b.sync(fd, oldMask, newMask)
}

func (b *kqueueBackend) Del(fd int32, oldMask, newMask EventFlags) error {
	return b.sync(fd, oldMask, newMask)
}

func (b *kqueueBackend) sync(fd int32, oldMask, newMask EventFlags) error {
	flagsFor := func(want bool) uint16 {
		if want {
			f := uint16(unix.EV_ADD | unix.EV_ENABLE)
			if newMask&EDGE_TRIGGERED != 0 {
				f |= unix.EV_CLEAR
			}
			return f
		}
		return unix.EV_DELETE
	}
	wantR, hadR := newMask&READ != 0, oldMask&READ != 0
	wantW, hadW := newMask&WRITE != 0, oldMask&WRITE != 0
	var firstErr error
	if wantR != hadR {
		if err := b.raw.register(fd, unix.EVFILT_READ, flagsFor(wantR)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if wantW != hadW {
		if err := b.raw.register(fd, unix.EVFILT_WRITE, flagsFor(wantW)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return newError(KindBackend, "kevent", firstErr)
	}
	return nil
}

func (b *kqueueBackend) Dispatch(timeout *time.Duration, activate ActivateFunc) error {
	n, err := b.raw.wait(b.events, derefOr(timeout, 0), timeout != nil)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return newError(KindBackend, "kevent(wait)", err)
	}
	for i := 0; i < n; i++ {
		ev := b.events[i]
		var mask EventFlags
		switch ev.Filter {
		case unix.EVFILT_READ:
			mask = READ
		case unix.EVFILT_WRITE:
			mask = WRITE
		}
		if ev.Flags&unix.EV_EOF != 0 {
			mask |= CLOSED
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			mask |= READ | WRITE
		}
		activate(int32(ev.Ident), mask)
	}
	if n == len(b.events) && len(b.events) < maxKqueueBuf {
		b.events = make([]unix.Kevent_t, len(b.events)*2)
	}
	return nil
}

func (b *kqueueBackend) Reinit() error { return nil }

func (b *kqueueBackend) Close() error { return b.raw.close() }

func derefOr(d *time.Duration, def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return *d
}
