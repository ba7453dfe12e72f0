package evcore

import (
	"sync/atomic"
	"time"

	"github.com/nyan233/evcore/container"
)

// Callback is invoked exactly once per activation. res is the subset
// of the event's interest that fired; userdata is whatever the caller
// passed to AssignFD, AssignSignal or AssignTimer.
type Callback func(ev *Event, res EventFlags, userdata interface{})

type targetKind uint8

const (
	targetNone targetKind = iota
	targetFD
	targetSignal
)

var seqGen uint64

func nextSeq() uint64 { return atomic.AddUint64(&seqGen, 1) }

// Event is the addressable unit of interest. The caller owns its
// memory; a Base only ever holds borrowed references to it through
// the fd/signal maps, the timer heap, and the activation queues.
type Event struct {
	base *Base

	kind   targetKind
	fd     int32
	signum int

	interest EventFlags
	priority int
	cb       Callback
	userdata interface{}

	// Timer linkage. Exactly one of (timed==false), (timed && bucket
	// == nil, heap-resident), (timed && bucket != nil, bucket member)
	// holds at any instant, tracked as a tag (bucket) plus a heap index
	// rather than overlapping storage.
	timed      bool
	relTimeout time.Duration
	deadline   int64 // absolute monotonic microseconds; heap/compare key
	heapIndex  int   // -1 when not resident in the heap
	bucket     *timeoutBucket // non-nil while a member of a common-timeout bucket's FIFO
	headOf     *timeoutBucket // non-nil only for the internal event representing a bucket's head
	commonGroup *timeoutBucket // sticky: the bucket AddCommon assigned, survives across PERSIST re-arms

	result   EventFlags
	lc       lifecycle
	internal bool
	seq      uint64

	finalizeCB func(*Event)
	finalizing bool

	// extraCalls counts additional Active()/signal deliveries that
	// arrived while the event was already queued; drainActivations
	// replays the callback extraCalls+1 times on the next dequeue.
	extraCalls int
}

// NewEvent allocates an unassigned event. AssignFD, AssignSignal or
// AssignTimer must be called before it can be added to a base.
func NewEvent() *Event {
	return &Event{heapIndex: -1}
}

// AssignFD (re)initializes ev as a file-descriptor event. It may be
// called again on an event that is not currently INSERTED to
// repurpose it.
func (ev *Event) AssignFD(fd int32, mask EventFlags, cb Callback, userdata interface{}) error {
	if ev.lc == lcInserted || ev.lc == lcActive || ev.lc == lcActiveLater {
		return newError(KindProgrammer, "AssignFD", errAssignWhileLive)
	}
	*ev = Event{
		kind:      targetFD,
		fd:        fd,
		interest:  mask,
		cb:        cb,
		userdata:  userdata,
		heapIndex: -1,
	}
	return nil
}

// AssignSignal (re)initializes ev as a signal event.
func (ev *Event) AssignSignal(signum int, cb Callback, userdata interface{}) error {
	if ev.lc == lcInserted || ev.lc == lcActive || ev.lc == lcActiveLater {
		return newError(KindProgrammer, "AssignSignal", errAssignWhileLive)
	}
	*ev = Event{
		kind:      targetSignal,
		signum:    signum,
		interest:  SIGNAL,
		cb:        cb,
		userdata:  userdata,
		heapIndex: -1,
	}
	return nil
}

// AssignTimer (re)initializes ev as a pure timer: no fd, no signal.
func (ev *Event) AssignTimer(cb Callback, userdata interface{}) error {
	if ev.lc == lcInserted || ev.lc == lcActive || ev.lc == lcActiveLater {
		return newError(KindProgrammer, "AssignTimer", errAssignWhileLive)
	}
	*ev = Event{
		kind:      targetNone,
		cb:        cb,
		userdata:  userdata,
		heapIndex: -1,
	}
	return nil
}

// SetPriority sets the event's priority level. Changing it while the
// event is ACTIVE or ACTIVE_LATER is a programmer error; on an
// INSERTED event it takes effect from the next activation.
func (ev *Event) SetPriority(p int) error {
	if ev.lc == lcActive || ev.lc == lcActiveLater {
		return newError(KindProgrammer, "SetPriority", errPriorityWhileActive)
	}
	ev.priority = p
	return nil
}

// Result returns the mask describing why the event last fired.
func (ev *Event) Result() EventFlags { return ev.result }

// Pending reports whether the event is currently registered with a
// base (INSERTED, ACTIVE, or ACTIVE_LATER).
func (ev *Event) Pending() bool {
	return ev.lc == lcInserted || ev.lc == lcActive || ev.lc == lcActiveLater
}

func (ev *Event) fd32() int32 { return ev.fd }

// --- container.HeapElem ---

func (ev *Event) Less(other container.HeapElem) bool {
	o := other.(*Event)
	if ev.deadline != o.deadline {
		return ev.deadline < o.deadline
	}
	return ev.seq < o.seq
}

func (ev *Event) SetIndex(i int) { ev.heapIndex = i }
func (ev *Event) Index() int     { return ev.heapIndex }

var (
	errAssignWhileLive     = errString("cannot reassign an event that is currently registered or active")
	errPriorityWhileActive = errString("cannot change priority of an active event")
)

type errString string

func (e errString) Error() string { return string(e) }
