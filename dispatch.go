package evcore

import "time"

// Dispatch runs the event loop until no registered events remain,
// equivalent to Loop(0).
func (b *Base) Dispatch() error {
	return b.Loop(0)
}

// Loop runs dispatch passes until LoopBreak, LoopExit's deadline, ONCE
// completes its single pass, or (absent NO_EXIT_ON_EMPTY) no events
// remain registered.
func (b *Base) Loop(flags LoopFlags) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrBaseClosed
	}
	b.breakNow = false
	for {
		cont, err := b.runPassLocked(flags)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// LoopBreak asks the currently running (or next) pass to stop after
// whatever work is already in flight, without waiting for pending
// callbacks to drain. Safe to call from any goroutine.
func (b *Base) LoopBreak() {
	b.lock.Lock()
	b.breakNow = true
	b.lock.Unlock()
	b.notifier.wake()
}

// LoopExit arms a deadline after which the loop exits once its current
// pass finishes, giving already-ready callbacks a chance to run first
// — unlike LoopBreak, which cuts in immediately.
func (b *Base) LoopExit(d time.Duration) {
	b.lock.Lock()
	deadline := deadlineFor(d)
	b.exitAt = &deadline
	b.lock.Unlock()
	b.notifier.wake()
}

// runPassLocked implements one iteration of the dispatch pass: flush
// the changelist, compute a timeout, release the lock for the
// backend's blocking wait, drain expired timers, promote ACTIVE_LATER
// to ACTIVE, drain finalizers, then drain every priority's activation
// queue in ascending order. Called with b.lock held; returns held.
func (b *Base) runPassLocked(flags LoopFlags) (bool, error) {
	if b.breakNow {
		b.breakNow = false
		return false, nil
	}
	if b.exitAt != nil && nowMicros() >= *b.exitAt {
		b.exitAt = nil
		return false, nil
	}

	if !b.changelist.empty() {
		for _, err := range b.changelist.flush(b.applyToBackend) {
			b.logger().ErrorFromErr(err)
		}
	}

	timeout := b.computeTimeout(flags)

	b.lock.Unlock()
	err := b.backend.Dispatch(timeout, func(fd int32, mask EventFlags) {
		b.lock.Lock()
		b.fds.activate(fd, mask, b.queueActive)
		b.lock.Unlock()
	})
	b.lock.Lock()
	if err != nil {
		return false, err
	}

	if b.breakNow {
		b.breakNow = false
		return false, nil
	}

	b.drainExpiredTimers()
	b.promoteActiveLater()
	b.drainFinalizers()
	b.drainActivations()

	if flags&ONCE != 0 {
		return false, nil
	}
	if b.liveEvents == 0 && flags&NO_EXIT_ON_EMPTY == 0 {
		return false, nil
	}
	return true, nil
}

// computeTimeout picks the backend wait duration: zero if NONBLOCK was
// requested or an ACTIVE_LATER promotion is already pending, otherwise
// the sooner of the earliest timer deadline and an armed LoopExit.
func (b *Base) computeTimeout(flags LoopFlags) *time.Duration {
	if flags&NONBLOCK != 0 || len(b.later) > 0 {
		zero := time.Duration(0)
		return &zero
	}
	var timeout *time.Duration
	if head := b.timers.peek(); head != nil {
		d := microsUntil(head.deadline)
		timeout = &d
	}
	if b.exitAt != nil {
		d := microsUntil(*b.exitAt)
		if timeout == nil || d < *timeout {
			timeout = &d
		}
	}
	return timeout
}

func microsUntil(deadline int64) time.Duration {
	d := time.Duration(deadline-nowMicros()) * time.Microsecond
	if d < 0 {
		d = 0
	}
	return d
}

func (b *Base) drainExpiredTimers() {
	now := nowMicros()
	for {
		head := b.timers.peek()
		if head == nil || head.deadline > now {
			return
		}
		b.timers.pop()
		var expired *Event
		if head.headOf != nil {
			expired = b.timers.expireHead(head)
		} else {
			expired = head
		}
		expired.timed = false
		b.queueActive(expired, TIMEOUT)
	}
}

func (b *Base) promoteActiveLater() {
	if len(b.later) == 0 {
		return
	}
	promoted := b.later
	b.later = nil
	for _, ev := range promoted {
		ev.lc = lcActive
		b.queues[b.priorityIndex(ev.priority)].Add(ev)
	}
}

func (b *Base) drainFinalizers() {
	for b.finalizers.Length() > 0 {
		ev := b.finalizers.Remove().(*Event)
		cb := ev.finalizeCB
		ev.finalizing = false
		ev.finalizeCB = nil
		ev.lc = lcInit
		b.lock.Unlock()
		if cb != nil {
			cb(ev)
		}
		b.lock.Lock()
	}
}

// drainActivations runs every queued activation's callback, lowest
// priority number first, with the base lock released around each call so a
// callback may freely call back into the API. Any event
// the callback activates while this runs is deferred to ACTIVE_LATER
// by queueActive, so it cannot cut ahead of events already queued for
// this pass. An event queued more than once before being dequeued
// (ev.extraCalls) has its callback replayed that many extra times, so
// Active's ncalls and repeated signal deliveries are not collapsed
// into a single invocation. LoopBreak stops the drain as soon as the
// callback in flight when it was called returns, without waiting for
// the rest of this pass's already-queued activations.
func (b *Base) drainActivations() {
	b.inDispatch = true
	defer func() { b.inDispatch = false }()

	for pri := 0; pri < len(b.queues); pri++ {
		q := b.queues[pri]
		for q.Length() > 0 {
			ev := q.Remove().(*Event)
			res := ev.result
			ev.result = 0
			calls := ev.extraCalls + 1
			ev.extraCalls = 0
			cb := ev.cb
			ud := ev.userdata
			persist := ev.interest&PERSIST != 0

			if persist {
				ev.lc = lcInserted
			} else {
				// Non-PERSIST events fall out of INSERTED entirely: deregister
				// fd/signal/timer state now so a level-triggered fd doesn't
				// refire next pass.
				if err := b.unregisterLocked(ev); err != nil {
					b.logger().ErrorFromErr(err)
				}
				ev.lc = lcInit
				if !ev.internal {
					b.liveEvents--
				}
			}

			b.lock.Unlock()
			if cb != nil {
				for i := 0; i < calls; i++ {
					cb(ev, res, ud)
				}
			}
			b.lock.Lock()

			if !ev.finalizing && ev.lc == lcInserted && res&TIMEOUT != 0 {
				b.rearmPersistTimer(ev)
			}
			// A PERSIST event that fired for READ/WRITE/SIGNAL while a
			// timeout was also pending keeps that heap entry resident
			// unchanged; only an actual timeout firing needs rearming.

			if b.breakNow {
				return
			}
		}
	}
}

func (b *Base) rearmPersistTimer(ev *Event) {
	switch {
	case ev.commonGroup != nil:
		ev.timed = true
		b.timers.schedule(ev.commonGroup, ev)
	case ev.relTimeout > 0:
		ev.timed = true
		ev.deadline = deadlineFor(ev.relTimeout)
		ev.seq = nextSeq()
		b.timers.push(ev)
	}
}
