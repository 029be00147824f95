package container

import "container/heap"

// UniqueHeap is a heap that keeps same values only once.
type UniqueHeap[T comparable] struct {
	has     map[T]bool
	removed map[T]bool
	heap    *sliceHeap[T]
}

// NewUniqueHeap creates a new UniqueHeap ordered by less.
// The value that less reports as the smallest is popped first.
func NewUniqueHeap[T comparable](less func(a, b T) bool) *UniqueHeap[T] {
	return &UniqueHeap[T]{
		has:     make(map[T]bool),
		removed: make(map[T]bool),
		heap:    &sliceHeap[T]{less: less},
	}
}

// Push pushs an element to the heap.
// If the element already exists in the heap, it will just skip it.
func (h *UniqueHeap[T]) Push(el T) {
	if h.removed[el] {
		delete(h.removed, el)
		return
	}
	if h.has[el] {
		return
	}
	h.has[el] = true
	heap.Push(h.heap, el)
}

// Has reports whether el is in the heap and not removed.
func (h *UniqueHeap[T]) Has(el T) bool {
	return h.has[el] && !h.removed[el]
}

// Remove marks an element as removed from the heap.
// It doesn't remove the element right away.
// Pop will clean removed elements internally.
func (h *UniqueHeap[T]) Remove(el T) {
	if !h.has[el] {
		return
	}
	h.removed[el] = true
}

// Len returns number of live elements in the heap.
func (h *UniqueHeap[T]) Len() int {
	return len(h.has) - len(h.removed)
}

// Pop pops an element from the heap.
// The second return value is false when the heap has no element.
func (h *UniqueHeap[T]) Pop() (T, bool) {
	for {
		if h.heap.Len() == 0 {
			var zero T
			return zero, false
		}
		el := heap.Pop(h.heap).(T)
		delete(h.has, el)
		if h.removed[el] {
			delete(h.removed, el)
			continue
		}
		return el, true
	}
}

// Clone returns a copy of the heap that can be popped
// without affecting the original.
func (h *UniqueHeap[T]) Clone() *UniqueHeap[T] {
	c := NewUniqueHeap(h.heap.less)
	c.heap.items = append(c.heap.items, h.heap.items...)
	for el := range h.has {
		c.has[el] = true
	}
	for el := range h.removed {
		c.removed[el] = true
	}
	return c
}

// sliceHeap implements heap.Interface over a slice with a given less function.
type sliceHeap[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h sliceHeap[T]) Len() int {
	return len(h.items)
}

func (h sliceHeap[T]) Less(i, j int) bool {
	return h.less(h.items[i], h.items[j])
}

func (h sliceHeap[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *sliceHeap[T]) Push(el interface{}) {
	h.items = append(h.items, el.(T))
}

func (h *sliceHeap[T]) Pop() interface{} {
	old := h.items
	n := len(old)
	el := old[n-1]
	var zero T
	old[n-1] = zero // avoid memory leak
	h.items = old[:n-1]
	return el
}
