// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package app

// Two independent recurrences.
func sum_squares(n int) int {
	s := 0
	q := 0
	for i := 0; i < n; i++ {
		s += i
		q += i * i
	}
	return s*1000 + q
}

// The stores and loads stay together; the total gets the loaded
// values through a queue.
func scale_sum(xs []int, k int) int {
	total := 0
	for i := 0; i < len(xs); i++ {
		xs[i] = xs[i] * k
		total += xs[i]
	}
	return total
}

// Two exits.  The count's stage gets the break condition from the
// total's stage.
func prefix_count(xs []int, limit int) int {
	total := 0
	count := 0
	for _, x := range xs {
		if limit < total+x {
			break
		}
		total += x
		count++
	}
	return total*100 + count
}

// Narrow arithmetic on both sides of the split.
func checksum(xs []uint8) uint32 {
	var sum uint8
	var mix uint32
	for i := 0; i < len(xs); i++ {
		sum += xs[i]
		mix = mix*31 + uint32(xs[i])
	}
	return uint32(sum)<<24 ^ mix
}

func nested_sums(n int, m int) int {
	r := 0
	for i := 0; i < n; i++ {
		a := 0
		b := 1
		for j := 0; j < m; j++ {
			a += j
			b = b * 3 % 1000
		}
		r += a + b
	}
	return r
}
