package evcore

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newTestBase(t *testing.T) *Base {
	t.Helper()
	b, err := NewBase(nil)
	if err != nil {
		t.Fatalf("NewBase: %v", err)
	}
	t.Cleanup(func() { _ = b.Free() })
	return b
}

// three pure timers fire in deadline order within tolerance.
func TestTimerOrdering(t *testing.T) {
	b := newTestBase(t)
	var mu sync.Mutex
	var order []int
	start := time.Now()
	var fired []time.Duration

	mk := func(tag int) *Event {
		ev := NewEvent()
		_ = ev.AssignTimer(func(ev *Event, res EventFlags, _ interface{}) {
			mu.Lock()
			order = append(order, tag)
			fired = append(fired, time.Since(start))
			mu.Unlock()
		}, nil)
		return ev
	}

	e30, e10, e20 := mk(30), mk(10), mk(20)
	d30, d10, d20 := 30*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond
	if err := b.Add(e30, &d30); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(e10, &d10); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(e20, &d20); err != nil {
		t.Fatal(err)
	}

	if err := b.Dispatch(); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{10, 20, 30}
	if len(order) != len(want) {
		t.Fatalf("got %v callbacks, want %d", order, len(want))
	}
	for i, tag := range want {
		if order[i] != tag {
			t.Fatalf("order[%d] = %d, want %d (full order %v)", i, order[i], tag, order)
		}
		deadline := time.Duration(tag) * time.Millisecond
		diff := fired[i] - deadline
		if diff < -5*time.Millisecond || diff > 5*time.Millisecond {
			t.Fatalf("event %dms fired at %v, outside tolerance", tag, fired[i])
		}
	}
}

// PERSIST read fires once per write without re-adding.
func TestPersistentRead(t *testing.T) {
	b := newTestBase(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var count int
	ev := NewEvent()
	_ = ev.AssignFD(int32(fds[0]), READ|PERSIST, func(ev *Event, res EventFlags, _ interface{}) {
		count++
		var buf [16]byte
		_, _ = unix.Read(fds[0], buf[:])
		if count == 1 {
			_, _ = unix.Write(fds[1], []byte{4, 5, 6})
		}
		if count == 2 {
			b.LoopBreak()
		}
	}, nil)
	if err := b.Add(ev, nil); err != nil {
		t.Fatal(err)
	}

	_, _ = unix.Write(fds[1], []byte{1, 2, 3})

	if err := b.Loop(NO_EXIT_ON_EMPTY); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if count != 2 {
		t.Fatalf("callback fired %d times, want 2", count)
	}
}

// changelist coalesces add/del/add on the same fd to one net change.
func TestChangelistCoalescing(t *testing.T) {
	b, err := NewBase(&BaseConfig{Changelist: true, IgnoreEnv: true})
	if err != nil {
		t.Fatalf("NewBase: %v", err)
	}
	defer b.Free()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	e1 := NewEvent()
	_ = e1.AssignFD(int32(fds[0]), READ, func(*Event, EventFlags, interface{}) {}, nil)
	e2 := NewEvent()
	_ = e2.AssignFD(int32(fds[0]), WRITE, func(*Event, EventFlags, interface{}) {}, nil)

	if err := b.Add(e1, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Del(e1); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(e2, nil); err != nil {
		t.Fatal(err)
	}

	b.lock.Lock()
	slot, ok := b.changelist.slots[int32(fds[0])]
	b.lock.Unlock()
	if !ok {
		t.Fatalf("expected a pending changelist slot for fd %d", fds[0])
	}
	if slot.oldMask != 0 || slot.newMask != WRITE {
		t.Fatalf("slot = %+v, want oldMask=0 newMask=WRITE", slot)
	}
}

// two events ready on the same fd: the lower priority value (0) runs
// before the higher one (5).
func TestPriorityOrdering(t *testing.T) {
	b, err := NewBase(&BaseConfig{Priorities: 8})
	if err != nil {
		t.Fatalf("NewBase: %v", err)
	}
	defer b.Free()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var order []string
	var mu sync.Mutex

	high := NewEvent()
	_ = high.AssignFD(int32(fds[0]), READ, func(ev *Event, res EventFlags, _ interface{}) {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
	}, nil)
	_ = high.SetPriority(0)

	low := NewEvent()
	_ = low.AssignFD(int32(fds[0]), READ, func(ev *Event, res EventFlags, _ interface{}) {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		b.LoopBreak()
	}, nil)
	_ = low.SetPriority(5)

	if err := b.Add(high, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(low, nil); err != nil {
		t.Fatal(err)
	}

	_, _ = unix.Write(fds[1], []byte{1})

	if err := b.Loop(NO_EXIT_ON_EMPTY); err != nil {
		t.Fatalf("Loop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Fatalf("order = %v, want [high low]", order)
	}
}

// deleting an unregistered event is a no-op success.
func TestDeleteIdempotent(t *testing.T) {
	b := newTestBase(t)
	ev := NewEvent()
	_ = ev.AssignTimer(func(*Event, EventFlags, interface{}) {}, nil)
	if err := b.Del(ev); err != nil {
		t.Fatalf("Del on unregistered event: %v", err)
	}
}

// a finalized event's callback never fires again and the finalizer
// runs exactly once.
func TestFinalize(t *testing.T) {
	b := newTestBase(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var cbCount, finalCount int
	ev := NewEvent()
	_ = ev.AssignFD(int32(fds[0]), READ|PERSIST, func(*Event, EventFlags, interface{}) {
		cbCount++
	}, nil)
	if err := b.Add(ev, nil); err != nil {
		t.Fatal(err)
	}

	if err := b.Finalize(ev, func(*Event) { finalCount++ }); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	_, _ = unix.Write(fds[1], []byte{1})
	if err := b.Loop(ONCE | NONBLOCK); err != nil {
		t.Fatalf("Loop: %v", err)
	}

	if cbCount != 0 {
		t.Fatalf("callback fired %d times after finalize, want 0", cbCount)
	}
	if finalCount != 1 {
		t.Fatalf("finalizer ran %d times, want 1", finalCount)
	}
}
