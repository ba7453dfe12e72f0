package evcore

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// signalWatch is the signal side of event registration wired to the
// OS: for every signal number with at least one registered Event, a
// goroutine sits on an os/signal.Notify channel and turns each
// delivery into Active(signal-event, SIGNAL, 1). This uses the
// portable standard mechanism Go already gives every process rather
// than self-pipe/signalfd plumbing: os/signal is the idiomatic Go
// signal shim.
type signalWatch struct {
	base *Base

	mu      sync.Mutex
	active  map[int]chan os.Signal
	stopped bool
}

func newSignalWatch(base *Base) *signalWatch {
	return &signalWatch{base: base, active: make(map[int]chan os.Signal)}
}

// watch starts forwarding signum to the base if nothing was watching
// it yet. Must be called with base.lock held.
func (w *signalWatch) watch(signum int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if _, ok := w.active[signum]; ok {
		return
	}
	ch := make(chan os.Signal, 8)
	w.active[signum] = ch
	signal.Notify(ch, syscall.Signal(signum))
	go w.forward(signum, ch)
}

// unwatch stops forwarding signum once its last listener is removed.
func (w *signalWatch) unwatch(signum int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.active[signum]
	if !ok {
		return
	}
	delete(w.active, signum)
	signal.Stop(ch)
	close(ch)
}

func (w *signalWatch) forward(signum int, ch chan os.Signal) {
	for range ch {
		b := w.base
		b.lock.Lock()
		if !b.closed {
			b.sigs.activate(signum, 1, b.queueActive)
			b.notifier.wake()
		}
		b.lock.Unlock()
	}
}

func (w *signalWatch) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	for signum, ch := range w.active {
		delete(w.active, signum)
		signal.Stop(ch)
		close(ch)
	}
}
