package evcore

import "golang.org/x/sys/unix"

// selfPipe is the internal wakeup event: LoopBreak/LoopExit and
// cross-goroutine Active calls write a byte to it so a blocked
// backend.Dispatch returns immediately instead of waiting out its
// timeout.
type selfPipe struct {
	base *Base
	r, w int
	ev   *Event
}

func newSelfPipe(base *Base) (*selfPipe, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, newError(KindExhausted, "pipe2", err)
	}
	sp := &selfPipe{base: base, r: fds[0], w: fds[1]}
	sp.ev = NewEvent()
	_ = sp.ev.AssignFD(int32(sp.r), READ|PERSIST, func(ev *Event, res EventFlags, _ interface{}) {
		sp.drain()
	}, nil)
	sp.ev.internal = true
	if err := base.Add(sp.ev, nil); err != nil {
		_ = unix.Close(sp.r)
		_ = unix.Close(sp.w)
		return nil, err
	}
	return sp, nil
}

// wake is safe to call from any goroutine, with or without the base
// lock held; a failed or short write just means a wakeup is already
// pending, which is harmless.
func (sp *selfPipe) wake() {
	var b [1]byte
	_, _ = unix.Write(sp.w, b[:])
}

func (sp *selfPipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(sp.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (sp *selfPipe) close() error {
	_ = sp.base.delLocked(sp.ev)
	_ = unix.Close(sp.w)
	return unix.Close(sp.r)
}
