package evcore

import "sync"

// debugLocker wraps a Locker to enforce two invariants: no
// non-recursive lock taken twice by the same goroutine, and every
// unlock matches a prior lock by the same goroutine. Condition
// variables are not wrapped. Violations terminate the process rather
// than return an error, because they indicate undefined behavior
// already in progress.
type debugLocker struct {
	inner  Locker
	id     IDFunc
	mu     sync.Mutex
	locked bool
	owner  uint64
}

func wrapDebugLocker(inner Locker, id IDFunc) *debugLocker {
	return &debugLocker{inner: inner, id: id}
}

func (d *debugLocker) Lock() {
	self := d.id()
	d.mu.Lock()
	if d.locked && d.owner == self {
		d.mu.Unlock()
		panic(newError(KindLockDebug, "debugLocker.Lock", errString("lock acquired twice without an intervening unlock")))
	}
	d.mu.Unlock()
	d.inner.Lock()
	d.mu.Lock()
	d.locked = true
	d.owner = self
	d.mu.Unlock()
}

func (d *debugLocker) Unlock() {
	d.mu.Lock()
	if !d.locked {
		d.mu.Unlock()
		panic(newError(KindLockDebug, "debugLocker.Unlock", errString("unlock without a matching lock")))
	}
	if d.owner != d.id() {
		d.mu.Unlock()
		panic(newError(KindLockDebug, "debugLocker.Unlock", errString("unlock by a goroutine that never locked it")))
	}
	d.locked = false
	d.mu.Unlock()
	d.inner.Unlock()
}

// debugWrapped caches the wrapped result for each *PlatformServices
// that has already had EnableLockDebugging applied, so a second call
// on the same input returns the same wrapper instead of double-wrapping.
var debugWrapped = map[*PlatformServices]*PlatformServices{}
var debugWrappedMu sync.Mutex

// EnableLockDebugging returns a PlatformServices whose locks are
// instrumented per the invariants above. It may only be called before
// the services are first used to construct a Base — wrapping a lock
// callback set already in use would not retroactively catch earlier
// violations. Calling it more than once with the same input is a
// no-op that returns the previously created wrapper.
func EnableLockDebugging(s *PlatformServices) *PlatformServices {
	debugWrappedMu.Lock()
	defer debugWrappedMu.Unlock()
	if wrapped, ok := debugWrapped[s]; ok {
		return wrapped
	}
	orig := s.NewLock
	wrapped := &PlatformServices{
		NewLock: func() Locker { return wrapDebugLocker(orig(), s.ID) },
		NewCond: s.NewCond,
		ID:      s.ID,
	}
	debugWrapped[s] = wrapped
	return wrapped
}
