// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package util

import (
	"container/heap"
)

// A min-heap ordered by a comparison function in the style of
// cmp.Compare.  Elements that compare equal come out in the order
// they went in.

type PriorityQueueT[T any] struct {
	heap entryHeapT[T]
	next int
}

func NewPriorityQueue[T any](compare func(x T, y T) int) *PriorityQueueT[T] {
	return &PriorityQueueT[T]{heap: entryHeapT[T]{compare: compare}}
}

func (pq *PriorityQueueT[T]) Len() int    { return len(pq.heap.entries) }
func (pq *PriorityQueueT[T]) Empty() bool { return len(pq.heap.entries) == 0 }

func (pq *PriorityQueueT[T]) Enqueue(values ...T) {
	for _, value := range values {
		heap.Push(&pq.heap, entryT[T]{value: value, serial: pq.next})
		pq.next += 1
	}
}

func (pq *PriorityQueueT[T]) Dequeue() T {
	return heap.Pop(&pq.heap).(entryT[T]).value
}

// The least element, which is left in the queue.

func (pq *PriorityQueueT[T]) Peek() T {
	return pq.heap.entries[0].value
}

type entryT[T any] struct {
	value  T
	serial int
}

type entryHeapT[T any] struct {
	entries []entryT[T]
	compare func(x T, y T) int
}

func (h entryHeapT[T]) Len() int { return len(h.entries) }

func (h entryHeapT[T]) Less(i, j int) bool {
	if order := h.compare(h.entries[i].value, h.entries[j].value); order != 0 {
		return order < 0
	}
	return h.entries[i].serial < h.entries[j].serial
}

func (h entryHeapT[T]) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

func (h *entryHeapT[T]) Push(x any) {
	h.entries = append(h.entries, x.(entryT[T]))
}

func (h *entryHeapT[T]) Pop() any {
	last := len(h.entries) - 1
	entry := h.entries[last]
	h.entries[last] = entryT[T]{}
	h.entries = h.entries[:last]
	return entry
}
