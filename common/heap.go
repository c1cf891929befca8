package common

import "container/heap"

// Ordered is satisfied by any type that can compare itself against another
// value of the same type, returning <0, 0, >0 for less/equal/greater.
type Ordered[T any] interface {
	CompareTo(other T) int
}

// Heap is a generic min-heap over any Ordered type, used by the atlas
// downloader to keep attachment batches sorted by retry deadline.
type Heap[T Ordered[T]] struct {
	items innerHeap[T]
}

// NewHeap returns an empty Heap.
func NewHeap[T Ordered[T]]() *Heap[T] {
	h := &Heap[T]{}
	heap.Init(&h.items)
	return h
}

// Push inserts v into the heap.
func (h *Heap[T]) Push(v T) {
	heap.Push(&h.items, v)
}

// Pop removes and returns the smallest element. Panics if the heap is empty.
func (h *Heap[T]) Pop() T {
	return heap.Pop(&h.items).(T)
}

// Peek returns the smallest element without removing it. Panics if the heap
// is empty.
func (h *Heap[T]) Peek() T {
	return h.items[0]
}

// Len returns the number of elements in the heap.
func (h *Heap[T]) Len() int {
	return len(h.items)
}

type innerHeap[T Ordered[T]] []T

func (h innerHeap[T]) Len() int            { return len(h) }
func (h innerHeap[T]) Less(i, j int) bool  { return h[i].CompareTo(h[j]) < 0 }
func (h innerHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *innerHeap[T]) Push(x any)         { *h = append(*h, x.(T)) }
func (h *innerHeap[T]) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
