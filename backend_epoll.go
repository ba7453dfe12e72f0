//go:build linux

package evcore

import (
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	RegisterBackend("epoll", newEpollBackend)
}

const (
	initialEpollBuf = 32
	maxEpollBuf     = 4096
	// epollTimeoutCeiling is the historical kernel overflow bound
	// epoll_wait's millisecond timeout must stay under when timerfd
	// isn't available.
	epollTimeoutCeiling = 35 * time.Minute
)

type translationOp uint8

const (
	opNoop translationOp = iota
	opAdd
	opMod
	opDel
)

// translationTable precomputes the op for every (oldBits, newBits)
// pair of READ|WRITE|CLOSED combinations, so the hot path never
// branches on it.
var translationTable [8][8]translationOp

func init() {
	for old := 0; old < 8; old++ {
		for nw := 0; nw < 8; nw++ {
			switch {
			case old == 0 && nw == 0:
				translationTable[old][nw] = opNoop
			case old == 0 && nw != 0:
				translationTable[old][nw] = opAdd
			case old != 0 && nw == 0:
				translationTable[old][nw] = opDel
			default:
				translationTable[old][nw] = opMod
			}
		}
	}
}

func ioBits(mask EventFlags) int {
	b := 0
	if mask&READ != 0 {
		b |= 1
	}
	if mask&WRITE != 0 {
		b |= 2
	}
	if mask&CLOSED != 0 {
		b |= 4
	}
	return b
}

func epollEventsFor(mask EventFlags) uint32 {
	var e uint32
	if mask&READ != 0 {
		e |= unix.EPOLLIN
	}
	if mask&WRITE != 0 {
		e |= unix.EPOLLOUT
	}
	if mask&CLOSED != 0 {
		e |= unix.EPOLLRDHUP
	}
	if mask&EDGE_TRIGGERED != 0 {
		e |= unix.EPOLLET
	}
	return e
}

func translateFromEpoll(raw uint32) EventFlags {
	var m EventFlags
	switch {
	case raw&(unix.EPOLLHUP|unix.EPOLLERR) != 0:
		m |= READ | WRITE
	default:
		if raw&unix.EPOLLIN != 0 {
			m |= READ
		}
		if raw&unix.EPOLLOUT != 0 {
			m |= WRITE
		}
	}
	if raw&unix.EPOLLRDHUP != 0 {
		m |= CLOSED
	}
	return m
}

// epollBackend is the Backend implementation over epoll,
// edge-triggered capable, with timerfd-backed precise timeouts and
// MOD/ADD/DEL error-recovery, plus a translation table, timerfd
// arming, and read-buffer growth beyond a simple fixed-size poller.
type epollBackend struct {
	base    *Base
	raw     *rawEpoll
	timer   *rawTimerfd // nil if PRECISE-TIMER wasn't requested or timerfd is unavailable
	events  []unix.EpollEvent
	etFlags map[int32]bool
}

func newEpollBackend(base *Base) (Backend, error) {
	raw, err := newRawEpoll()
	if err != nil {
		return nil, newError(KindExhausted, "epoll_create1", err)
	}
	be := &epollBackend{
		base:    base,
		raw:     raw,
		events:  make([]unix.EpollEvent, initialEpollBuf),
		etFlags: make(map[int32]bool),
	}
	if base.config.PreciseTimer {
		if tfd, err := newRawTimerfd(); err == nil {
			if err := raw.ctl(unix.EPOLL_CTL_ADD, int32(tfd.fd), unix.EPOLLIN); err != nil {
				base.logger().ErrorFromErr(err)
				_ = tfd.close()
			} else {
				be.timer = tfd
			}
		} else {
			base.logger().ErrorFromErr(err)
		}
	}
	return be, nil
}

func (b *epollBackend) Name() string { return "epoll" }

func (b *epollBackend) Caps() BackendCaps {
	c := CapEdgeTriggered | CapO1 | CapEarlyClose | CapNeedReinit
	return c
}

func (b *epollBackend) Add(fd int32, oldMask, newMask EventFlags) error {
	return b.change(fd, oldMask, newMask)
}

func (b *epollBackend) Del(fd int32, oldMask, newMask EventFlags) error {
	return b.change(fd, oldMask, newMask)
}

func (b *epollBackend) change(fd int32, oldMask, newMask EventFlags) error {
	op := translationTable[ioBits(oldMask)][ioBits(newMask)]
	b.etFlags[fd] = newMask&EDGE_TRIGGERED != 0
	events := epollEventsFor(newMask)
	switch op {
	case opNoop:
		return nil
	case opAdd:
		err := b.raw.ctl(unix.EPOLL_CTL_ADD, fd, events)
		if err == unix.EEXIST {
			// recovered: a dup()'d fd aliased a live entry, or the fd
			// was re-added before its old entry was cleared.
			b.base.logger().Debug("epoll add->exist, retrying as mod")
			err = b.raw.ctl(unix.EPOLL_CTL_MOD, fd, events)
		}
		return b.classify("epoll_ctl(ADD)", err)
	case opMod:
		err := b.raw.ctl(unix.EPOLL_CTL_MOD, fd, events)
		if err == unix.ENOENT {
			// recovered: fd was closed and reopened between
			// dispatches, so the kernel has no entry to modify.
			b.base.logger().Debug("epoll mod->enoent, retrying as add")
			err = b.raw.ctl(unix.EPOLL_CTL_ADD, fd, events)
		}
		return b.classify("epoll_ctl(MOD)", err)
	case opDel:
		err := b.raw.ctl(unix.EPOLL_CTL_DEL, fd, 0)
		delete(b.etFlags, fd)
		if err == unix.ENOENT || err == unix.EBADF || err == unix.EPERM {
			// fd was closed before we got to it; already gone counts
			// as success.
			return nil
		}
		return b.classify("epoll_ctl(DEL)", err)
	}
	return nil
}

func (b *epollBackend) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return newError(KindBackend, op, err)
}

func (b *epollBackend) Dispatch(timeout *time.Duration, activate ActivateFunc) error {
	waitMS := -1
	if timeout != nil {
		armed := false
		if b.timer != nil {
			if err := b.timer.arm(*timeout); err != nil {
				b.base.logger().ErrorFromErr(err)
			} else {
				armed = true
			}
		}
		if armed {
			waitMS = -1 // timerfd itself wakes epoll_wait precisely
		} else {
			d := *timeout
			if d > epollTimeoutCeiling {
				d = epollTimeoutCeiling
			}
			waitMS = int(d.Milliseconds())
		}
	}

	n, err := b.raw.wait(b.events, waitMS)
	if err != nil {
		if err == unix.EINTR {
			return nil // interrupted block, treated as zero events
		}
		return newError(KindBackend, "epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		ev := b.events[i]
		if b.timer != nil && ev.Fd == int32(b.timer.fd) {
			b.timer.drain()
			continue
		}
		mask := translateFromEpoll(ev.Events)
		if b.etFlags[ev.Fd] {
			mask |= EDGE_TRIGGERED
		}
		activate(ev.Fd, mask)
	}

	if n == len(b.events) && len(b.events) < maxEpollBuf {
		grown := len(b.events) * 2
		if grown > maxEpollBuf {
			grown = maxEpollBuf
		}
		b.events = make([]unix.EpollEvent, grown)
	}
	return nil
}

func (b *epollBackend) Reinit() error {
	newRaw, err := newRawEpoll()
	if err != nil {
		return newError(KindExhausted, "epoll_create1(reinit)", err)
	}
	old := b.raw
	b.raw = newRaw
	_ = old.close()
	b.etFlags = make(map[int32]bool)
	if b.timer != nil {
		if err := b.raw.ctl(unix.EPOLL_CTL_ADD, int32(b.timer.fd), unix.EPOLLIN); err != nil {
			b.base.logger().ErrorFromErr(err)
		}
	}
	return nil
}

func (b *epollBackend) Close() error {
	if b.timer != nil {
		_ = b.timer.close()
	}
	return b.raw.close()
}
