package evcore

// sigMap is the signal-number → event-list side of registration.
// Unlike fds there is no OS-visible mask to recompute: the signal
// watch only needs to know whether at least one event cares about a
// given signal number, so it can keep os/signal.Notify in sync.
type sigMap struct {
	m map[int][]*Event
}

func newSigMap() *sigMap { return &sigMap{m: make(map[int][]*Event)} }

// add returns true if signum had no listeners before (the signal shim
// uses that to decide whether to start watching the signal).
func (s *sigMap) add(ev *Event) (firstForSignal bool) {
	list := s.m[ev.signum]
	firstForSignal = len(list) == 0
	s.m[ev.signum] = append(list, ev)
	return firstForSignal
}

// del returns true if removing ev emptied signum's list (the shim can
// stop watching it), and ok false if ev was not registered.
func (s *sigMap) del(ev *Event) (emptied, ok bool) {
	list, found := s.m[ev.signum]
	if !found {
		return false, false
	}
	idx := -1
	for i, cand := range list {
		if cand == ev {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, false
	}
	list = append(list[:idx], list[idx+1:]...)
	if len(list) == 0 {
		delete(s.m, ev.signum)
		return true, true
	}
	s.m[ev.signum] = list
	return false, true
}

// activate queues every event registered for signum with result mask
// SIGNAL, ncalls times each").
func (s *sigMap) activate(signum int, ncalls int, queue func(ev *Event, result EventFlags)) {
	for _, ev := range s.m[signum] {
		for i := 0; i < ncalls; i++ {
			queue(ev, SIGNAL)
		}
	}
}

func (s *sigMap) len() int { return len(s.m) }

// signals lists every signal number with at least one listener, used
// by Base.Reinit to re-arm the signal shim after fork.
func (s *sigMap) signals() []int {
	out := make([]int, 0, len(s.m))
	for signum := range s.m {
		out = append(out, signum)
	}
	return out
}
