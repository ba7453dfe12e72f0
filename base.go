package evcore

import (
	"os"
	"time"

	"github.com/eapache/queue"
	"github.com/zbh255/bilog"
)

const (
	maxPriorities     = 256
	defaultPriorities = 1
)

// BaseConfig enumerates everything NewBase needs to pick a backend and
// shape a dispatch loop.
type BaseConfig struct {
	// BackendPreference lists backend names in preference order; empty
	// means "try every registered backend."
	BackendPreference []string

	RequireEdgeTriggered bool
	RequireO1            bool
	RequireEarlyClose    bool
	// PreciseTimer requests timerfd-backed microsecond timeouts where
	// the backend supports it (epoll does); otherwise timeouts round
	// to the millisecond.
	PreciseTimer bool

	// Changelist opts this base into the add/del coalescer. If false,
	// EVENT_EPOLL_USE_CHANGELIST still turns it on unless IgnoreEnv is
	// set.
	Changelist bool
	IgnoreEnv  bool

	// Priorities is the number of priority levels; 0 means 1, and the
	// max is 256.
	Priorities int

	Services *PlatformServices
	Logger   bilog.Logger
}

func (c *BaseConfig) changelistEnabled() bool {
	if c.Changelist {
		return true
	}
	if c.IgnoreEnv {
		return false
	}
	_, ok := os.LookupEnv("EVENT_EPOLL_USE_CHANGELIST")
	return ok
}

func (c *BaseConfig) requiredCaps() BackendCaps {
	var caps BackendCaps
	if c.RequireEdgeTriggered {
		caps |= CapEdgeTriggered
	}
	if c.RequireO1 {
		caps |= CapO1
	}
	if c.RequireEarlyClose {
		caps |= CapEarlyClose
	}
	return caps
}

// LoopFlags controls a single Base.Loop call.
type LoopFlags uint8

const (
	NONBLOCK LoopFlags = 1 << iota
	ONCE
	NO_EXIT_ON_EMPTY
)

// Base is the reactor instance owning one backend, one timer store,
// the fd/signal maps, the changelist, and the per-priority activation
// queues.
type Base struct {
	config BaseConfig
	lock   *recursiveMutex

	backend    Backend
	changelist *changelist
	fds        *fdMap
	sigs       *sigMap
	timers     *timerStore
	buckets    map[time.Duration]*timeoutBucket

	queues     []*queue.Queue // per-priority FIFO of *Event, ascending priority drains first
	later      []*Event       // events marked active_later, promoted at the top of the next pass
	finalizers *queue.Queue   // events draining through FINALIZING

	notifier   *selfPipe
	sigWatch   *signalWatch
	breakNow   bool
	exitAt     *int64 // absolute microsecond deadline armed by LoopExit
	closed     bool
	inDispatch bool // true while running callbacks this pass; gates ACTIVE vs ACTIVE_LATER
	liveEvents int  // INSERTED/ACTIVE/ACTIVE_LATER events excluding internal ones
}

// NewBase constructs a reactor instance. config may be nil to take
// every default (one priority, no changelist, every registered
// backend tried, in no particular order).
func NewBase(config *BaseConfig) (*Base, error) {
	if config == nil {
		config = &BaseConfig{}
	}
	cfg := *config
	if cfg.Priorities <= 0 {
		cfg.Priorities = defaultPriorities
	}
	if cfg.Priorities > maxPriorities {
		cfg.Priorities = maxPriorities
	}
	services := cfg.Services
	if services == nil {
		defaultServicesMu.Lock()
		services = defaultServices
		defaultServicesSet = true
		defaultServicesMu.Unlock()
	}

	base := &Base{
		config:     cfg,
		lock:       newRecursiveMutex(services),
		changelist: newChangelist(cfg.changelistEnabled()),
		fds:        newFDMap(),
		sigs:       newSigMap(),
		timers:     newTimerStore(),
		buckets:    make(map[time.Duration]*timeoutBucket),
		queues:     make([]*queue.Queue, cfg.Priorities),
		finalizers: queue.New(),
	}
	for i := range base.queues {
		base.queues[i] = queue.New()
	}

	backend, err := selectBackend(base, cfg.BackendPreference, cfg.requiredCaps())
	if err != nil {
		return nil, err
	}
	base.backend = backend
	base.sigWatch = newSignalWatch(base)

	notifier, err := newSelfPipe(base)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	base.notifier = notifier

	return base, nil
}

func (b *Base) priorityIndex(p int) int {
	if p < 0 {
		return 0
	}
	if p >= len(b.queues) {
		return len(b.queues) - 1
	}
	return p
}

// NewCommonTimeout registers (or reuses) a bucket for relative
// duration d. Events added with AddCommon(ev, ct) share that bucket's
// single heap slot instead of getting their own.
func (b *Base) NewCommonTimeout(d time.Duration) CommonTimeout {
	b.lock.Lock()
	defer b.lock.Unlock()
	bucket, ok := b.buckets[d]
	if !ok {
		bucket = newTimeoutBucket(d)
		b.buckets[d] = bucket
	}
	return CommonTimeout{bucket: bucket}
}

// Free releases the backend and the self-pipe. Events still registered
// are not freed — the caller owns their memory.
func (b *Base) Free() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.sigWatch.stop()
	_ = b.notifier.close()
	return b.backend.Close()
}
