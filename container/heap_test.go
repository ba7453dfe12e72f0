package container

import (
	"math/rand"
	"sort"
	"testing"
)

type testElem struct {
	key int
	idx int
}

func (e *testElem) Less(other HeapElem) bool { return e.key < other.(*testElem).key }
func (e *testElem) SetIndex(i int)           { e.idx = i }
func (e *testElem) Index() int               { return e.idx }

func TestHeapOrdering(t *testing.T) {
	h := NewHeap(8)
	keys := rand.New(rand.NewSource(1)).Perm(1000)
	for _, k := range keys {
		h.Push(&testElem{key: k})
	}
	if h.Len() != len(keys) {
		t.Fatalf("len = %d, want %d", h.Len(), len(keys))
	}
	sort.Ints(keys)
	for _, want := range keys {
		got := h.Pop().(*testElem)
		if got.key != want {
			t.Fatalf("pop = %d, want %d", got.key, want)
		}
	}
	if !h.Empty() {
		t.Fatal("heap should be empty")
	}
}

func TestHeapErase(t *testing.T) {
	h := NewHeap(8)
	elems := make([]*testElem, 20)
	for i := range elems {
		elems[i] = &testElem{key: i}
		h.Push(elems[i])
	}
	// erase a handful of interior elements and confirm the rest still
	// come out in order
	for _, i := range []int{3, 7, 11, 0, 19} {
		h.Erase(elems[i])
	}
	if h.Len() != 15 {
		t.Fatalf("len = %d, want 15", h.Len())
	}
	last := -1
	for !h.Empty() {
		got := h.Pop().(*testElem)
		if got.key <= last {
			t.Fatalf("out of order: %d after %d", got.key, last)
		}
		last = got.key
	}
}

func TestHeapAdjust(t *testing.T) {
	h := NewHeap(8)
	a := &testElem{key: 10}
	b := &testElem{key: 20}
	c := &testElem{key: 30}
	h.Push(a)
	h.Push(b)
	h.Push(c)
	a.key = 40
	h.Adjust(a)
	if top := h.Peek().(*testElem); top != b {
		t.Fatalf("top = %v, want b", top)
	}
}

func TestHeapInvariant(t *testing.T) {
	h := NewHeap(8)
	r := rand.New(rand.NewSource(2))
	var live []*testElem
	for i := 0; i < 2000; i++ {
		switch {
		case len(live) == 0 || r.Intn(3) != 0:
			e := &testElem{key: r.Intn(1 << 20)}
			h.Push(e)
			live = append(live, e)
		default:
			idx := r.Intn(len(live))
			h.Erase(live[idx])
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		if top := h.Peek(); top != nil {
			min := top.(*testElem).key
			for _, e := range live {
				if e.key < min {
					t.Fatalf("heap top %d is not the minimum (found %d)", min, e.key)
				}
			}
		}
	}
}
