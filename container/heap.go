// Package container holds the indexed min-heap the timer store is
// built on. It follows the same array-backed swim/sink binary heap
// shape as a plain fixed-element heap, generalized to arbitrary
// elements that can report and remember their own array position, so
// the heap can erase or re-key any element in O(log n) instead of
// only the root.
package container

// HeapElem is satisfied by anything that can live in a Heap. SetIndex
// is called by the heap whenever the element's array slot changes;
// Index lets the heap validate an Erase/Adjust call against the
// caller's belief about its own position.
type HeapElem interface {
	Less(other HeapElem) bool
	SetIndex(i int)
	Index() int
}

// Heap is a 0-indexed binary min-heap over HeapElem.
type Heap struct {
	elems []HeapElem
}

// NewHeap preallocates capacity slots; it grows by doubling afterward.
func NewHeap(capacity int) *Heap {
	if capacity <= 0 {
		capacity = 8
	}
	return &Heap{elems: make([]HeapElem, 0, capacity)}
}

func (h *Heap) Len() int     { return len(h.elems) }
func (h *Heap) Empty() bool  { return len(h.elems) == 0 }

// Peek returns the minimum element without removing it, or nil.
func (h *Heap) Peek() HeapElem {
	if len(h.elems) == 0 {
		return nil
	}
	return h.elems[0]
}

// Push inserts e and restores the heap property.
func (h *Heap) Push(e HeapElem) {
	e.SetIndex(len(h.elems))
	h.elems = append(h.elems, e)
	h.siftUp(len(h.elems) - 1)
}

// Pop removes and returns the minimum element, or nil if empty.
func (h *Heap) Pop() HeapElem {
	if len(h.elems) == 0 {
		return nil
	}
	top := h.elems[0]
	h.removeAt(0)
	top.SetIndex(-1)
	return top
}

// Erase removes e from wherever it currently sits. e.Index() must
// still be accurate; Push/Pop/Erase/Adjust all keep it so as long as
// callers don't mutate it behind the heap's back.
func (h *Heap) Erase(e HeapElem) {
	i := e.Index()
	if i < 0 || i >= len(h.elems) || h.elems[i] != e {
		return
	}
	h.removeAt(i)
	e.SetIndex(-1)
}

// Adjust re-heapifies around e after its ordering key changed while it
// was already resident. Call this instead of Erase+Push to avoid the
// extra allocation-free shuffle of a full removal.
func (h *Heap) Adjust(e HeapElem) {
	i := e.Index()
	if i < 0 || i >= len(h.elems) || h.elems[i] != e {
		return
	}
	if !h.siftUp(i) {
		h.siftDown(i)
	}
}

func (h *Heap) removeAt(i int) {
	last := len(h.elems) - 1
	h.swap(i, last)
	h.elems[last].SetIndex(-1)
	h.elems = h.elems[:last]
	if i < last {
		if !h.siftUp(i) {
			h.siftDown(i)
		}
	}
}

func (h *Heap) swap(i, j int) {
	h.elems[i], h.elems[j] = h.elems[j], h.elems[i]
	h.elems[i].SetIndex(i)
	h.elems[j].SetIndex(j)
}

func (h *Heap) siftUp(i int) bool {
	moved := false
	for i > 0 {
		parent := (i - 1) / 2
		if !h.elems[i].Less(h.elems[parent]) {
			break
		}
		h.swap(i, parent)
		i = parent
		moved = true
	}
	return moved
}

func (h *Heap) siftDown(i int) bool {
	moved := false
	n := len(h.elems)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		smallest := left
		if right := left + 1; right < n && h.elems[right].Less(h.elems[left]) {
			smallest = right
		}
		if !h.elems[smallest].Less(h.elems[i]) {
			break
		}
		h.swap(i, smallest)
		i = smallest
		moved = true
	}
	return moved
}
