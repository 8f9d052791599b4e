// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Simple stack for explicit depth-first walks.

package util

type StackT[T any] struct {
	elts []T
}

func (stack *StackT[T]) Len() int {
	return len(stack.elts)
}

func (stack *StackT[T]) Empty() bool {
	return len(stack.elts) == 0
}

func (stack *StackT[T]) Push(elts ...T) {
	stack.elts = append(stack.elts, elts...)
}

func (stack *StackT[T]) Pop() T {
	if len(stack.elts) == 0 {
		panic("popping from empty stack")
	}
	last := len(stack.elts) - 1
	elt := stack.elts[last]
	var zero T
	stack.elts[last] = zero
	stack.elts = stack.elts[:last]
	return elt
}

func (stack *StackT[T]) Top() T {
	if len(stack.elts) == 0 {
		panic("top from empty stack")
	}
	return stack.elts[len(stack.elts)-1]
}
