// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package util

import (
	"slices"
	"testing"
)

func TestStronglyConnectedComponents(t *testing.T) {
	// a <-> b -> c -> d -> c, e alone
	graph := map[string][]string{
		"a": {"b"},
		"b": {"a", "c"},
		"c": {"d", "x"}, // x isn't an input
		"d": {"c"},
	}
	edges := func(node string) []string { return graph[node] }
	got := StronglyConnectedComponents([]string{"e", "d", "c", "b", "a"}, edges)

	position := map[string]int{}
	for i, component := range got {
		for _, node := range component {
			position[node] = i
		}
	}
	if len(got) != 3 {
		t.Fatalf("got %d components %v, want 3", len(got), got)
	}
	if position["a"] != position["b"] || position["c"] != position["d"] {
		t.Errorf("cycles split: %v", got)
	}
	if position["b"] >= position["c"] {
		t.Errorf("components not in topological order: %v", got)
	}
	if !slices.Equal(got[position["a"]], []string{"b", "a"}) {
		t.Errorf("component %v is not in input order", got[position["a"]])
	}
}

func TestReachable(t *testing.T) {
	graph := map[int][]int{1: {2}, 2: {3, 1}, 3: {}}
	edges := func(n int) []int { return graph[n] }
	tests := []struct {
		from, to int
		want     bool
	}{
		{1, 3, true},
		{1, 1, true},
		{3, 3, false},
		{3, 1, false},
	}
	for _, test := range tests {
		if got := Reachable(test.from, test.to, edges); got != test.want {
			t.Errorf("Reachable(%d, %d) = %v, want %v", test.from, test.to, got, test.want)
		}
	}
}

func TestSet(t *testing.T) {
	x := NewSet(1, 2, 3)
	y := NewSet(3, 4)
	x.Add(2)
	if !slices.Equal(Sorted(x.Union(y)), []int{1, 2, 3, 4}) {
		t.Errorf("union: %v", Sorted(x.Union(y)))
	}
	if !slices.Equal(Sorted(x.Intersection(y)), []int{3}) {
		t.Errorf("intersection: %v", Sorted(x.Intersection(y)))
	}
	if !slices.Equal(Sorted(x.Difference(y)), []int{1, 2}) {
		t.Errorf("difference: %v", Sorted(x.Difference(y)))
	}
	x.Remove(1)
	if x.Contains(1) || !x.Contains(2) {
		t.Errorf("remove: %v", Sorted(x))
	}
	down := SortedFunc(y, func(a, b int) int { return b - a })
	if !slices.Equal(down, []int{4, 3}) {
		t.Errorf("SortedFunc: %v", down)
	}
}

func TestQueues(t *testing.T) {
	fifo := QueueT[int]{}
	for i := range 4 {
		fifo.Enqueue(i)
	}
	for i := range 4 {
		if n := fifo.Dequeue(); n != i {
			t.Errorf("fifo: got %d, want %d", n, i)
		}
	}
	if !fifo.Empty() {
		t.Errorf("fifo not empty")
	}

	pq := NewPriorityQueue(func(x, y [2]int) int { return x[0] - y[0] })
	pq.Enqueue([2]int{5, 0}, [2]int{1, 0}, [2]int{4, 0}, [2]int{1, 1}, [2]int{3, 0})
	if pq.Len() != 5 || pq.Peek() != [2]int{1, 0} {
		t.Errorf("priority queue has %d, least %v", pq.Len(), pq.Peek())
	}
	got := [][2]int{}
	for !pq.Empty() {
		got = append(got, pq.Dequeue())
	}
	want := [][2]int{{1, 0}, {1, 1}, {3, 0}, {4, 0}, {5, 0}}
	if !slices.Equal(got, want) {
		t.Errorf("priority queue order %v", got)
	}

	stack := StackT[string]{}
	stack.Push("a", "b")
	if stack.Top() != "b" || stack.Pop() != "b" || stack.Pop() != "a" || !stack.Empty() {
		t.Errorf("stack misbehaved")
	}
}

func TestSExp(t *testing.T) {
	sexp, err := ParseSExp("(graph (instr a phi) ; comment\n (data a b) 12)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sexp.Head() != "graph" || len(sexp.List) != 4 {
		t.Fatalf("parsed %v", sexp)
	}
	if sexp.List[3].Kind != SExpInt || sexp.List[3].Integer != 12 {
		t.Errorf("integer parsed as %v", sexp.List[3])
	}
	if got := sexp.String(); got != "(graph (instr a phi) (data a b) 12)" {
		t.Errorf("printed as %s", got)
	}
	for _, bad := range []string{"(a (b)", "a)", "(a) (b)", "(a #)"} {
		if _, err := ParseSExp(bad); err == nil {
			t.Errorf("%q parsed without error", bad)
		}
	}
}
