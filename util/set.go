// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package util

import (
	"cmp"
	"maps"
	"slices"
)

// A set is a map from objects to the empty struct.  Iteration order
// is random, so anything that feeds code generation should go through
// Sorted or SortedFunc.

type SetT[E comparable] map[E]struct{}

func NewSet[E comparable](members ...E) SetT[E] {
	set := SetT[E]{}
	set.Add(members...)
	return set
}

func (set SetT[E]) Add(members ...E) {
	for _, member := range members {
		set[member] = struct{}{}
	}
}

func (set SetT[E]) Remove(member E) {
	delete(set, member)
}

func (set SetT[E]) Contains(member E) bool {
	_, found := set[member]
	return found
}

func (set SetT[E]) Members() []E {
	return slices.Collect(maps.Keys(set))
}

func (set SetT[E]) Union(other SetT[E]) SetT[E] {
	result := maps.Clone(set)
	if result == nil {
		result = SetT[E]{}
	}
	maps.Copy(result, other)
	return result
}

// Loop through the smaller of the two sets.

func (set SetT[E]) Intersection(other SetT[E]) SetT[E] {
	if len(other) < len(set) {
		return other.Intersection(set)
	}
	result := NewSet[E]()
	for member := range set {
		if other.Contains(member) {
			result.Add(member)
		}
	}
	return result
}

func (set SetT[E]) Difference(other SetT[E]) SetT[E] {
	result := NewSet[E]()
	for member := range set {
		if !other.Contains(member) {
			result.Add(member)
		}
	}
	return result
}

func Sorted[E cmp.Ordered](set SetT[E]) []E {
	return slices.Sorted(maps.Keys(set))
}

func SortedFunc[E comparable](set SetT[E], compare func(E, E) int) []E {
	return slices.SortedFunc(maps.Keys(set), compare)
}
