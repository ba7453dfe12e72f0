package evcore

// fdEntry is the per-fd registration record: the ordered list of
// events interested in the fd, plus the mask most recently computed
// as their OR.
type fdEntry struct {
	events []*Event
	mask   EventFlags
}

// fdMap is the fd → event-list side of the registration map. The
// invariant that the effective mask equals the OR of live interest on
// the fd is maintained here on every add/del.
type fdMap struct {
	m map[int32]*fdEntry
}

func newFDMap() *fdMap { return &fdMap{m: make(map[int32]*fdEntry)} }

func effectiveMask(evs []*Event) EventFlags {
	var m EventFlags
	for _, e := range evs {
		m |= e.interest & interestMask
	}
	return m
}

// add inserts ev into fd's list and reports the mask change the
// backend needs to be told about.
func (f *fdMap) add(ev *Event) (oldMask, newMask EventFlags) {
	e, ok := f.m[ev.fd]
	if !ok {
		e = &fdEntry{}
		f.m[ev.fd] = e
	}
	oldMask = e.mask
	e.events = append(e.events, ev)
	e.mask = effectiveMask(e.events)
	return oldMask, e.mask
}

// del removes ev from its fd's list. ok is false if ev was not
// registered.
func (f *fdMap) del(ev *Event) (oldMask, newMask EventFlags, ok bool) {
	e, found := f.m[ev.fd]
	if !found {
		return 0, 0, false
	}
	idx := -1
	for i, cand := range e.events {
		if cand == ev {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, 0, false
	}
	oldMask = e.mask
	e.events = append(e.events[:idx], e.events[idx+1:]...)
	if len(e.events) == 0 {
		delete(f.m, ev.fd)
		return oldMask, 0, true
	}
	e.mask = effectiveMask(e.events)
	return oldMask, e.mask, true
}

func (f *fdMap) maskOf(fd int32) (EventFlags, bool) {
	e, ok := f.m[fd]
	if !ok {
		return 0, false
	}
	return e.mask, true
}

// activate distributes a backend readiness notification across every
// event on fd whose interest intersects trig: each such event is
// queued with result = interest ∩ trig. The edge-triggered aggregation
// rule falls out for free here, since trig carries EDGE_TRIGGERED only
// when the backend reports it, and an event only sees it in its own
// result if it asked for it.
func (f *fdMap) activate(fd int32, trig EventFlags, queue func(ev *Event, result EventFlags)) {
	e, ok := f.m[fd]
	if !ok {
		return
	}
	for _, ev := range e.events {
		if res := ev.interest & trig; res != 0 {
			queue(ev, res)
		}
	}
}

func (f *fdMap) events(fd int32) []*Event {
	e, ok := f.m[fd]
	if !ok {
		return nil
	}
	return e.events
}

func (f *fdMap) len() int { return len(f.m) }

// snapshot returns the current fd -> effective mask set, used by
// Base.Reinit to rebuild a backend's OS-level state after fork.
func (f *fdMap) snapshot() map[int32]EventFlags {
	out := make(map[int32]EventFlags, len(f.m))
	for fd, e := range f.m {
		out[fd] = e.mask
	}
	return out
}
