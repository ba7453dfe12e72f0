//go:build linux

package evcore

import (
	"time"

	"golang.org/x/sys/unix"
)

// rawTimerfd arms a monotonic timerfd before each backend block so the
// epoll backend can offer microsecond-precise timeouts
// instead of the millisecond rounding plain epoll_wait imposes.
// Grounded on the same TimerfdCreate/TimerfdSettime pair the muduo-go
// example's timerQueue uses.
type rawTimerfd struct {
	fd int
}

func newRawTimerfd() (*rawTimerfd, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &rawTimerfd{fd: fd}, nil
}

// arm schedules a one-shot expiry after d. d<=0 is armed as the
// shortest expiry (1µs), so a zero timeout still wakes epoll_wait.
func (t *rawTimerfd) arm(d time.Duration) error {
	if d <= 0 {
		d = time.Microsecond
	}
	var its unix.ItimerSpec
	its.Value = unix.NsecToTimespec(d.Nanoseconds())
	return unix.TimerfdSettime(t.fd, 0, &its, nil)
}

// drain reads and discards the expiration counter so the fd goes back
// to non-readable; the actual timer bookkeeping lives in the driver's
// heap, not here.
func (t *rawTimerfd) drain() {
	var buf [8]byte
	_, _ = unix.Read(t.fd, buf[:])
}

func (t *rawTimerfd) close() error {
	return unix.Close(t.fd)
}
