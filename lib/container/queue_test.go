package container

import (
	"reflect"
	"testing"
)

func TestUniqueQueue(t *testing.T) {
	tasks := []string{"render-1", "render-2", "render-1", "comp-1"}
	q := NewUniqueQueue[string]()
	for _, v := range tasks {
		q.Push(v)
	}
	got := make([]string, 0)
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []string{"render-1", "render-2", "comp-1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got: %v, want: %v", got, want)
	}
}

func TestUniqueQueueRemove(t *testing.T) {
	q := NewUniqueQueue[string]()
	q.Push("a")
	q.Push("b")
	q.Push("c")
	if !q.Remove("b") {
		t.Fatalf("b wasn't removed")
	}
	if q.Remove("b") {
		t.Fatalf("b shouldn't be removed twice")
	}
	if q.Remove("x") {
		t.Fatalf("unknown value shouldn't be removed")
	}
	if q.Len() != 2 {
		t.Fatalf("Len: got %v, want 2", q.Len())
	}
	got := q.Items()
	want := []string{"a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Items: got %v, want %v", got, want)
	}
	q.Pop()
	q.Pop()
	if _, ok := q.Pop(); ok {
		t.Fatalf("queue should be empty")
	}
}
