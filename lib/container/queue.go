package container

// UniqueQueue is a FIFO queue that has unique items.
// Same values cannot be exist in this queue.
type UniqueQueue[T comparable] struct {
	has     map[T]bool
	removed map[T]bool
	first   *queueItem[T]
	last    *queueItem[T]
}

// queueItem wraps a value and directs the next queueItem,
// so the queue can traverse.
type queueItem[T any] struct {
	v    T
	next *queueItem[T]
}

// NewUniqueQueue creates a new UniqueQueue.
func NewUniqueQueue[T comparable]() *UniqueQueue[T] {
	return &UniqueQueue[T]{
		has:     make(map[T]bool),
		removed: make(map[T]bool),
	}
}

// Push pushs a value to the queue.
// If the same value has already exists in the queue, it does nothing.
func (q *UniqueQueue[T]) Push(v T) {
	if q.removed[v] {
		delete(q.removed, v)
		return
	}
	if q.has[v] {
		return
	}
	q.has[v] = true
	item := &queueItem[T]{v: v}
	if q.first == nil {
		q.first = item
	} else {
		q.last.next = item
	}
	q.last = item
}

// Pop pops a value from the queue.
// The second return value is false when the queue is empty.
// It will clean up any removed value it met.
func (q *UniqueQueue[T]) Pop() (T, bool) {
	for {
		if q.first == nil {
			var zero T
			return zero, false
		}
		v := q.first.v
		if q.first == q.last {
			q.first = nil
			q.last = nil
		} else {
			q.first = q.first.next
		}
		delete(q.has, v)
		if q.removed[v] {
			delete(q.removed, v)
			continue
		}
		return v, true
	}
}

// Remove marks the given value as removed from the queue.
// It returns false if the queue doesn't have the value.
// Pop will clean removed elements internally.
func (q *UniqueQueue[T]) Remove(v T) bool {
	if !q.has[v] {
		return false
	}
	if q.removed[v] {
		return false
	}
	q.removed[v] = true
	return true
}

// Len returns number of live values in the queue.
func (q *UniqueQueue[T]) Len() int {
	return len(q.has) - len(q.removed)
}

// Items returns live values of the queue in their pop order.
func (q *UniqueQueue[T]) Items() []T {
	items := make([]T, 0, q.Len())
	for it := q.first; it != nil; it = it.next {
		if q.removed[it.v] {
			continue
		}
		items = append(items, it.v)
	}
	return items
}
