package evcore

import (
	"time"

	"github.com/eapache/queue"
	"github.com/nyan233/evcore/container"
)

// timeoutBucket is a common-timeout bucket: a FIFO
// of events sharing the same relative deadline, represented in the
// timer heap by a single internal bucket-head event. Because every
// member shares the same relative duration and deadlines are computed
// from a monotonically non-decreasing clock, insertion order and
// deadline order coincide, so the FIFO head is always the earliest
// deadline.
type timeoutBucket struct {
	duration time.Duration
	list     *queue.Queue // of *Event
	head     *Event       // internal event resident in the heap while list is non-empty
}

// CommonTimeout is an opaque handle returned by Base.NewCommonTimeout.
// Passing it to Base.AddCommon routes the event through a shared
// bucket instead of giving it its own heap slot.
type CommonTimeout struct {
	bucket *timeoutBucket
}

// timerStore is the min-heap plus the common-timeout overlay. All
// access happens under the owning Base's lock.
type timerStore struct {
	heap *container.Heap
}

func newTimerStore() *timerStore {
	return &timerStore{heap: container.NewHeap(8)}
}

func (t *timerStore) push(ev *Event)   { t.heap.Push(ev) }
func (t *timerStore) erase(ev *Event)  { t.heap.Erase(ev) }
func (t *timerStore) adjust(ev *Event) { t.heap.Adjust(ev) }
func (t *timerStore) peek() *Event {
	e := t.heap.Peek()
	if e == nil {
		return nil
	}
	return e.(*Event)
}
func (t *timerStore) pop() *Event {
	e := t.heap.Pop()
	if e == nil {
		return nil
	}
	return e.(*Event)
}
func (t *timerStore) empty() bool { return t.heap.Empty() }

func newTimeoutBucket(d time.Duration) *timeoutBucket {
	return &timeoutBucket{duration: d, list: queue.New()}
}

// schedule enqueues ev at the tail of b's FIFO and, if ev is now the
// earliest member, (re)installs b's head in the heap.
func (t *timerStore) schedule(b *timeoutBucket, ev *Event) {
	ev.deadline = deadlineFor(b.duration)
	ev.seq = nextSeq()
	ev.bucket = b
	b.list.Add(ev)
	if b.list.Length() == 1 {
		if b.head == nil {
			b.head = &Event{internal: true, headOf: b, heapIndex: -1}
		}
		b.head.deadline = ev.deadline
		b.head.seq = nextSeq()
		t.push(b.head)
	}
}

// unschedule removes ev from b's FIFO before it has expired, e.g. on
// Del. The queue has no O(1) random-delete, so this drains and
// rebuilds it; buckets are expected to stay small relative to fd
// counts, so this stays well inside O(1)-ish budget.
func (t *timerStore) unschedule(b *timeoutBucket, ev *Event) {
	n := b.list.Length()
	wasFront := n > 0 && b.list.Peek().(*Event) == ev
	kept := make([]*Event, 0, n)
	for i := 0; i < n; i++ {
		e := b.list.Remove().(*Event)
		if e != ev {
			kept = append(kept, e)
		}
	}
	for _, e := range kept {
		b.list.Add(e)
	}
	ev.bucket = nil
	if !wasFront {
		return
	}
	if b.list.Length() > 0 {
		b.head.deadline = b.list.Peek().(*Event).deadline
		t.adjust(b.head)
	} else {
		t.erase(b.head)
	}
}

// expireHead is called when a bucket-head pops off the top of the
// heap: it dequeues the bucket's earliest member, advances the head
// to the new front, and re-heapifies.
func (t *timerStore) expireHead(head *Event) *Event {
	b := head.headOf
	expired := b.list.Remove().(*Event)
	expired.bucket = nil
	if b.list.Length() > 0 {
		head.deadline = b.list.Peek().(*Event).deadline
		head.seq = nextSeq()
		t.push(head)
	}
	return expired
}
