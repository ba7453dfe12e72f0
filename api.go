package evcore

import "time"

// Add registers ev with the base, optionally with a relative timeout.
// Calling Add on an already-INSERTED event updates its timeout (and
// re-arms it) without touching its fd/signal registration.
func (b *Base) Add(ev *Event, timeout *time.Duration) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.addLocked(ev, timeout, nil)
}

// AddCommon is Add's common-timeout variant: ev's deadline is tracked
// via ct's shared bucket instead of its own heap slot.
func (b *Base) AddCommon(ev *Event, ct CommonTimeout) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.addLocked(ev, nil, ct.bucket)
}

func (b *Base) addLocked(ev *Event, timeout *time.Duration, bucket *timeoutBucket) error {
	if b.closed {
		return ErrBaseClosed
	}
	if ev.finalizing {
		return ErrFinalizing
	}
	if ev.base != nil && ev.base != b {
		return ErrAlreadyInBase
	}
	wasLive := ev.Pending()
	ev.base = b

	if !wasLive {
		switch ev.kind {
		case targetFD:
			oldMask, newMask := b.fds.add(ev)
			if err := b.applyFDChange(ev.fd, oldMask, newMask); err != nil {
				b.fds.del(ev)
				return err
			}
		case targetSignal:
			if first := b.sigs.add(ev); first {
				b.sigWatch.watch(ev.signum)
			}
		}
	}

	if ev.timed {
		if ev.bucket != nil {
			b.timers.unschedule(ev.bucket, ev)
		} else if ev.heapIndex >= 0 {
			b.timers.erase(ev)
		}
		ev.timed = false
	}
	switch {
	case bucket != nil:
		ev.timed = true
		ev.commonGroup = bucket
		b.timers.schedule(bucket, ev)
	case timeout != nil:
		ev.timed = true
		ev.relTimeout = *timeout
		ev.deadline = deadlineFor(*timeout)
		ev.seq = nextSeq()
		b.timers.push(ev)
	}

	if !wasLive && !ev.internal {
		b.liveEvents++
	}
	if ev.lc != lcActive && ev.lc != lcActiveLater {
		ev.lc = lcInserted
	}
	return nil
}

// Del unregisters ev. Deleting an event that is not currently
// registered is a no-op success.
func (b *Base) Del(ev *Event) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.delLocked(ev)
}

// DelNoBlock behaves like Del but documents that it never waits for a
// callback of ev already running on another goroutine to finish —
// true here by construction, since callbacks only ever run on the
// goroutine inside Dispatch with the base lock released around each
// call, never concurrently with Del itself.
func (b *Base) DelNoBlock(ev *Event) error {
	return b.Del(ev)
}

func (b *Base) delLocked(ev *Event) error {
	if !ev.Pending() && ev.lc != lcFinalizing {
		return nil
	}
	wasLive := ev.Pending()
	if err := b.unregisterLocked(ev); err != nil {
		return err
	}
	ev.lc = lcInit
	ev.result = 0
	if wasLive && !ev.internal {
		b.liveEvents--
	}
	return nil
}

// unregisterLocked tears down ev's fd/signal/timer bookkeeping without
// touching its lifecycle flag or the live-event count — the part Del
// and a fired non-PERSIST event's fall-out-of-INSERTED transition
// share.
func (b *Base) unregisterLocked(ev *Event) error {
	switch ev.kind {
	case targetFD:
		oldMask, newMask, ok := b.fds.del(ev)
		if ok {
			if err := b.applyFDChange(ev.fd, oldMask, newMask); err != nil {
				return err
			}
		}
	case targetSignal:
		if emptied, ok := b.sigs.del(ev); ok && emptied {
			b.sigWatch.unwatch(ev.signum)
		}
	}
	if ev.timed {
		if ev.bucket != nil {
			b.timers.unschedule(ev.bucket, ev)
		} else if ev.heapIndex >= 0 {
			b.timers.erase(ev)
		}
		ev.timed = false
	}
	return nil
}

// applyFDChange routes a mask transition either into the changelist
// (coalesced mode) or straight to the backend.
func (b *Base) applyFDChange(fd int32, oldMask, newMask EventFlags) error {
	if b.changelist.enabled {
		b.changelist.record(fd, oldMask, newMask)
		return nil
	}
	return b.applyToBackend(fd, oldMask, newMask)
}

func (b *Base) applyToBackend(fd int32, oldMask, newMask EventFlags) error {
	if oldMask == newMask {
		return nil
	}
	if newMask == 0 {
		return b.backend.Del(fd, oldMask, newMask)
	}
	return b.backend.Add(fd, oldMask, newMask)
}

// Active explicitly activates ev with result mask and ncalls
// invocations, available to callers that want to synthesize an
// activation.
func (b *Base) Active(ev *Event, mask EventFlags, ncalls int) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrBaseClosed
	}
	for i := 0; i < ncalls; i++ {
		b.queueActive(ev, mask)
	}
	b.notifier.wake()
	return nil
}

// queueActive is the common activation path shared by the backend's
// readiness translation, the timer expiry drain, and Active. While a
// dispatch pass is running callbacks, new activations go to
// ACTIVE_LATER and are promoted at the top of the next pass, so a
// callback's own re-activation can never jump ahead of events already
// queued for this pass.
func (b *Base) queueActive(ev *Event, mask EventFlags) {
	if ev.finalizing {
		return
	}
	ev.result |= mask
	if ev.lc == lcActive || ev.lc == lcActiveLater {
		// Already queued for this or the next pass: record the extra
		// call instead of dropping it, so ncalls replays accumulate
		// rather than collapsing to a single invocation.
		ev.extraCalls++
		return
	}
	if b.inDispatch {
		ev.lc = lcActiveLater
		b.later = append(b.later, ev)
		return
	}
	ev.lc = lcActive
	b.queues[b.priorityIndex(ev.priority)].Add(ev)
}

// Finalize unregisters ev and schedules cb to run once, outside any
// backend-callback reentrancy, so it can free resources an event's own
// callback must not free out from under itself.
func (b *Base) Finalize(ev *Event, cb func(*Event)) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if err := b.delLocked(ev); err != nil {
		return err
	}
	ev.finalizeCB = cb
	ev.finalizing = true
	ev.lc = lcFinalizing
	b.finalizers.Add(ev)
	b.notifier.wake()
	return nil
}
