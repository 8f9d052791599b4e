// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package util

// Simple FIFO queues, kept as a circular list hanging off the tail.

type QueueT[T any] struct {
	value T
	next  *QueueT[T]
}

func (queue *QueueT[T]) Empty() bool {
	return queue.next == nil
}

func (queue *QueueT[T]) Enqueue(value T) {
	tail := queue.next
	newTail := &QueueT[T]{value: value}
	if tail == nil {
		newTail.next = newTail
	} else {
		newTail.next = tail.next
		tail.next = newTail
	}
	queue.next = newTail
}

func (queue *QueueT[T]) Dequeue() T {
	if queue.next == nil {
		panic("dequeue on empty queue")
	}
	tail := queue.next
	head := tail.next
	if head == tail {
		queue.next = nil
	} else {
		tail.next = head.next
	}
	return head.value
}

//----------------------------------------------------------------
// Array comprehension routines borrowed from Scheme.

func Every[T any](predicate func(T) bool, slice []T) bool {
	for _, x := range slice {
		if !predicate(x) {
			return false
		}
	}
	return true
}

func Any[T any](predicate func(T) bool, slice []T) bool {
	for _, x := range slice {
		if predicate(x) {
			return true
		}
	}
	return false
}

func Filter[T any](predicate func(T) bool, slice []T) []T {
	result := []T{}
	for _, x := range slice {
		if predicate(x) {
			result = append(result, x)
		}
	}
	return result
}

func Map[S any, T any](function func(S) T, slice []S) []T {
	result := make([]T, len(slice))
	for i, x := range slice {
		result[i] = function(x)
	}
	return result
}
