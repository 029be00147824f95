package container

import (
	"reflect"
	"testing"
)

func drainHeap[T comparable](h *UniqueHeap[T]) []T {
	got := []T{}
	for {
		v, ok := h.Pop()
		if !ok {
			return got
		}
		got = append(got, v)
	}
}

func TestUniqueHeap(t *testing.T) {
	cases := []struct {
		vals []float64
		want []float64
	}{
		{
			vals: []float64{1, 1, 2, 3, 2, 4},
			want: []float64{4, 3, 2, 1},
		},
		{
			vals: []float64{0.5, -1, 0.5},
			want: []float64{0.5, -1},
		},
	}
	for i, c := range cases {
		h := NewUniqueHeap(func(a, b float64) bool { return a > b })
		for _, v := range c.vals {
			h.Push(v)
		}
		got := drainHeap(h)
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("%d: got %v, want %v", i, got, c.want)
		}
	}
}

func TestUniqueHeapRemove(t *testing.T) {
	h := NewUniqueHeap(func(a, b int) bool { return a < b })
	for _, v := range []int{1, 2, 3, 4} {
		h.Push(v)
	}
	h.Remove(1)
	h.Remove(2)
	if h.Len() != 2 {
		t.Fatalf("Len: got %v, want 2", h.Len())
	}
	if h.Has(1) {
		t.Fatalf("removed value should not be reported by Has")
	}
	got := drainHeap(h)
	want := []int{3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUniqueHeapRemoveThenPush(t *testing.T) {
	h := NewUniqueHeap(func(a, b int) bool { return a < b })
	for _, v := range []int{1, 2, 3, 4} {
		h.Push(v)
	}
	for _, v := range []int{1, 2} {
		h.Remove(v)
		h.Push(v)
	}
	got := drainHeap(h)
	want := []int{1, 2, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUniqueHeapClone(t *testing.T) {
	h := NewUniqueHeap(func(a, b int) bool { return a > b })
	for _, v := range []int{5, 1, 3} {
		h.Push(v)
	}
	h.Remove(3)
	c := h.Clone()
	got := drainHeap(c)
	want := []int{5, 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("clone: got %v, want %v", got, want)
	}
	if h.Len() != 2 {
		t.Fatalf("original heap should not be drained, Len: %v", h.Len())
	}
}
