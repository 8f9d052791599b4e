// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package dswp

import (
	"go/types"
	"testing"

	"github.com/nikandfor/errors"

	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/pdg"
	"github.com/s48/dswp/sccdag"
)

func parseDAG(t *testing.T, text string) (*pdg.GraphT, *sccdag.DAGT, map[string]*ir.InstrT) {
	t.Helper()
	graph, err := pdg.ParseGraph(text)
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	named := map[string]*ir.InstrT{}
	for _, instr := range graph.Internal {
		named[instr.Name] = instr
	}
	dag := sccdag.Build(graph)
	dag.MergeToFixpoint()
	return graph, dag, named
}

const counted = `
(graph
  (instr i phi) (instr i1 add) (instr c compare) (instr br if)
  (instr r phi) (instr r1 mul)
  (data i i1) (data i1 i) (data i c) (data c br) (data i r1)
  (data r r1) (data r1 r)
  (control br i) (control br i1) (control br c) (control br br)
  (control br r) (control br r1)
  (iv i i1))`

func TestSingleRecurrence(t *testing.T) {
	_, dag, named := parseDAG(t, counted)
	pt, err := Partition(dag, nil, DefaultOptions())
	if !errors.Is(err, ErrNotProfitable) {
		t.Fatalf("got %v, want ErrNotProfitable", err)
	}
	if !pt.IsRemovable(named["i"]) || !pt.IsRemovable(named["br"]) || pt.IsRemovable(named["r"]) {
		t.Errorf("wrong removable nodes:\n%s", pt)
	}
	if len(pt.Partitions) != 1 || pt.OwnerOf(named["r1"]) != pt.Partitions[0] {
		t.Errorf("partitions:\n%s", pt)
	}
}

// The same loop with the bound recomputed inside it, as in
// i < len(xs).
const lenBounded = `
(graph
  (instr i phi) (instr i1 add) (instr m len) (instr c compare) (instr br if)
  (instr r phi) (instr r1 add)
  (data i i1) (data i1 i) (data i c) (data m c) (data c br) (data i r1)
  (data r r1) (data r1 r)
  (control br i) (control br i1) (control br m) (control br c) (control br br)
  (control br r) (control br r1)
  (iv i i1) (invariant m))`

func TestInvariantBound(t *testing.T) {
	_, dag, named := parseDAG(t, lenBounded)
	pt, err := Partition(dag, nil, DefaultOptions())
	if !errors.Is(err, ErrNotProfitable) {
		t.Fatalf("got %v, want ErrNotProfitable\n%s", err, pt)
	}
	if dag.NodeOf(named["m"]) != dag.NodeOf(named["i"]) {
		t.Fatalf("bound is not in the counter's SCC:\n%s", dag)
	}
	if !pt.IsRemovable(named["m"]) || !pt.IsRemovable(named["br"]) || pt.IsRemovable(named["r1"]) {
		t.Errorf("wrong removable nodes:\n%s", pt)
	}
}

const independent = `
(graph
  (instr a phi) (instr a1 add)
  (instr b phi) (instr b1 add)
  (instr c phi) (instr c1 add)
  (data a a1) (data a1 a) (data b b1) (data b1 b) (data c c1) (data c1 c))`

func TestFoldDown(t *testing.T) {
	_, dag, _ := parseDAG(t, independent)
	pt, err := Partition(dag, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if pt.MaxCost != 3 || len(pt.Partitions) != 2 {
		t.Fatalf("max cost %d:\n%s", pt.MaxCost, pt)
	}
	// The lowest-numbered pair is folded together.
	first := pt.PartitionOf(dag.Node(0))
	if first != pt.PartitionOf(dag.Node(1)) || first == pt.PartitionOf(dag.Node(2)) {
		t.Errorf("wrong fold:\n%s", pt)
	}
	if first.Order != 0 || first.Cost != 4 || pt.Partitions[1].Order != 1 {
		t.Errorf("wrong order:\n%s", pt)
	}

	options := DefaultOptions()
	options.IdealThreads = 3
	if pt, err := Partition(sccdag.Build(dag.Graph), nil, options); err != nil || len(pt.Partitions) != 3 {
		t.Errorf("three threads: %v\n%s", err, pt)
	}
}

func TestForceNoMerging(t *testing.T) {
	_, dag, _ := parseDAG(t, independent)
	options := DefaultOptions()
	options.ForceNoSCCPartition = true
	pt, err := Partition(dag, nil, options)
	if err != nil || len(pt.Partitions) != 3 {
		t.Fatalf("%v:\n%s", err, pt)
	}
	for i, part := range pt.Partitions {
		if part.Order != i || len(part.Nodes) != 1 {
			t.Errorf("partition %v order %d", part, part.Order)
		}
	}
}

const layered = `
(graph
  (instr a phi) (instr a1 add)
  (instr b phi) (instr b1 add)
  (instr c mul) (instr d mul)
  (instr e phi) (instr e1 add)
  (instr f phi) (instr f1 add)
  (data a a1) (data a1 a) (data b b1) (data b1 b)
  (data e e1) (data e1 e) (data f f1) (data f1 f)
  (data a1 c) (data b1 c) (data c d) (data a1 d)
  (data d e1) (data b1 f1) (data e1 f1))`

func TestPartitionOrder(t *testing.T) {
	for _, threads := range []int{2, 3, 4} {
		_, dag, _ := parseDAG(t, layered)
		options := DefaultOptions()
		options.IdealThreads = threads
		pt, err := Partition(dag, nil, options)
		if err != nil {
			t.Fatalf("%d threads: %v", threads, err)
		}
		if threads < len(pt.Partitions) {
			t.Errorf("%d threads, %d partitions", threads, len(pt.Partitions))
		}
		total := 0
		for i, part := range pt.Partitions {
			total += part.Cost
			if part.Order != i {
				t.Errorf("partition %v has order %d at %d", part, part.Order, i)
			}
		}
		if total != len(dag.Graph.Internal) {
			t.Errorf("costs add up to %d", total)
		}
		// Every dependence between stages goes forward.
		for _, edge := range dag.Edges() {
			from := pt.PartitionOf(dag.Node(edge.From))
			to := pt.PartitionOf(dag.Node(edge.To))
			if to.Order < from.Order {
				t.Errorf("%d threads: edge from stage %d back to stage %d\n%s", threads, from.Order, to.Order, pt)
			}
		}
	}
}

func TestCrossStageMemory(t *testing.T) {
	graph, dag, _ := parseDAG(t, `
(graph
  (instr v load) (instr w mul)
  (instr x phi) (instr x1 add) (instr s store)
  (data v w) (data x x1) (data x1 x) (data x1 s)
  (memory v s))`)
	options := DefaultOptions()
	options.ForceNoSCCPartition = true
	pt, err := Partition(dag, nil, options)
	if err != nil || len(pt.Partitions) != 4 {
		t.Fatalf("%v:\n%s", err, pt)
	}
	ldi := &LoopDependenceInfoT{Graph: graph, DAG: dag, Partitioning: pt}
	err = ldi.planStages()
	if !errors.Is(err, ErrCrossStageMemory) || !errors.Is(err, ErrNotApplicable) || !IsDeclined(err) {
		t.Errorf("got %v, want ErrCrossStageMemory", err)
	}
}

func TestQueueWidth(t *testing.T) {
	tests := []struct {
		typ  types.Type
		want int
	}{
		{types.Typ[types.Bool], 8},
		{types.Typ[types.Uint8], 8},
		{types.Typ[types.Int16], 16},
		{types.Typ[types.Int32], 32},
		{types.Typ[types.Int], 64},
		{types.Typ[types.Uintptr], 64},
		{types.Typ[types.Float64], 0},
		{types.Typ[types.String], 0},
		{OpaqueArray, 0},
	}
	for _, test := range tests {
		if got := QueueWidth(test.typ); got != test.want {
			t.Errorf("QueueWidth(%v) = %d, want %d", test.typ, got, test.want)
		}
	}
}
