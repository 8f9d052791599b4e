// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package app

// One recurrence, so there is nothing to split.
func power(base int, n int) int {
	r := 1
	for i := 0; i < n; i++ {
		r *= base
	}
	return r
}

// The step count is not what decides when the loop ends.  Its stage
// gets both branch conditions from the stage that updates n.
func collatz_steps(n int) int {
	steps := 0
	for n != 1 {
		if n%2 == 0 {
			n = n / 2
		} else {
			n = 3*n + 1
		}
		steps++
	}
	return steps
}

// The loop can be entered at either test, so neither one is a header
// and no loop is found.
func countdown_pair(n int, odd bool) int {
	r := 0
	if odd {
		goto second
	}
first:
	if n <= 0 {
		return r
	}
	r += n
	n--
second:
	if n <= 0 {
		return r
	}
	r += 2 * n
	n--
	goto first
}
