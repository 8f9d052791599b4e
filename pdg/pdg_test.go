// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package pdg

import (
	"go/token"
	"go/types"
	"slices"
	"testing"

	"github.com/s48/dswp/ir"
)

var intType = types.Typ[types.Int]

type loopT struct {
	fn                                   *ir.FuncT
	loop                                 *ir.LoopT
	n                                    *ir.ParamT
	cell, i, r, test, branch             *ir.InstrT
	next, sum, load, store, jump, result *ir.InstrT
}

//   entry:  cell = alloca; goto header
//   header: i = phi(0, next); r = phi(0, sum); if i < n goto body else exit
//   body:   next = i + 1; sum = r + i; load cell; store cell sum; goto header
//   exit:   result = phi(r); return result

func makeLoop() *loopT {
	fn := ir.NewFunc("loop")
	l := &loopT{fn: fn, n: fn.AddParam("n", intType)}
	fn.Results = []types.Type{intType}
	entry := fn.NewBlock("entry")
	header := fn.NewBlock("header")
	body := fn.NewBlock("body")
	exit := fn.NewBlock("exit")

	l.cell = fn.NewAlloca(intType, 1)
	entry.Append(l.cell, fn.NewJump(header))

	l.i = fn.NewPhi(intType)
	l.r = fn.NewPhi(intType)
	l.test = fn.NewCompare(token.LSS, l.i, l.n)
	l.branch = fn.NewIf(l.test, body, exit)
	header.Append(l.i, l.r, l.test, l.branch)

	l.next = fn.NewBinop(token.ADD, l.i, ir.NewInt(intType, 1))
	l.sum = fn.NewBinop(token.ADD, l.r, l.i)
	l.load = fn.NewLoad(intType, l.cell)
	l.store = fn.NewStore(l.cell, l.sum)
	l.jump = fn.NewJump(header)
	body.Append(l.next, l.sum, l.load, l.store, l.jump)

	l.i.AddIncoming(ir.NewInt(intType, 0), entry)
	l.i.AddIncoming(l.next, body)
	l.r.AddIncoming(ir.NewInt(intType, 0), entry)
	l.r.AddIncoming(l.sum, body)

	l.result = fn.NewPhi(intType)
	l.result.AddIncoming(l.r, header)
	exit.Append(l.result, fn.NewReturn(l.result))
	fn.ComputeCFG()
	l.loop = ir.FindLoops(fn)[0]
	return l
}

func hasEdge(edges []*EdgeT, kind KindT, from ir.ValueT, to ir.ValueT) bool {
	return slices.ContainsFunc(edges, func(edge *EdgeT) bool {
		return edge.Kind == kind && edge.From == from && edge.To == to
	})
}

func TestBuildLoop(t *testing.T) {
	l := makeLoop()
	graph := BuildLoop(l.fn, l.loop)

	if len(graph.Internal) != 9 {
		t.Errorf("%d internal instructions, want 9", len(graph.Internal))
	}
	tests := []struct {
		kind     KindT
		from, to ir.ValueT
	}{
		{DataDep, l.i, l.test},
		{DataDep, l.test, l.branch},
		{DataDep, l.next, l.i},
		{DataDep, l.sum, l.r},
		{DataDep, l.sum, l.store},
		{MemoryDep, l.load, l.store},
		{MemoryDep, l.store, l.load},
		{ControlDep, l.branch, l.next},
		{ControlDep, l.branch, l.store},
		{ControlDep, l.branch, l.i},
		{ControlDep, l.branch, l.branch},
	}
	for _, test := range tests {
		if !hasEdge(graph.Edges, test.kind, test.from, test.to) {
			t.Errorf("missing %s edge %v -> %v", test.kind, test.from, test.to)
		}
	}
	if hasEdge(graph.Edges, ControlDep, l.branch, l.cell) {
		t.Errorf("control edge to an instruction outside the loop")
	}
	if !hasEdge(graph.Incoming, DataDep, l.n, l.test) || !hasEdge(graph.Incoming, DataDep, l.cell, l.load) {
		t.Errorf("missing incoming edges %v", graph.Incoming)
	}
	if len(graph.Outgoing) != 1 || !hasEdge(graph.Outgoing, DataDep, l.r, l.result) {
		t.Errorf("outgoing edges %v", graph.Outgoing)
	}
	if inputs := graph.ExternalInputs(); !slices.Equal(inputs, []ir.ValueT{l.n, l.cell}) {
		t.Errorf("external inputs %v", inputs)
	}

	if !graph.InductionVariables.Contains(l.i) || !graph.InductionVariables.Contains(l.next) {
		t.Errorf("i is not an induction variable")
	}
	if graph.InductionVariables.Contains(l.r) || len(graph.InductionVariables) != 2 {
		t.Errorf("wrong induction variables")
	}

	if !graph.Reaches(l.test, l.store) || !graph.Reaches(l.sum, l.sum) {
		t.Errorf("reachability through control edges missing")
	}
	if graph.Reaches(l.store, l.test) {
		t.Errorf("store should not reach the loop test")
	}
}

func TestAddEdge(t *testing.T) {
	l := makeLoop()
	graph := NewGraph([]*ir.InstrT{l.i, l.next})
	first := graph.AddEdge(DataDep, l.i, l.next)
	if graph.AddEdge(DataDep, l.i, l.next) != first || len(graph.Edges) != 1 {
		t.Errorf("duplicate edge added")
	}
	if graph.AddEdge(ControlDep, l.i, l.next) == first {
		t.Errorf("edges of different kinds merged")
	}
	if graph.AddEdge(DataDep, l.cell, l.n) != nil {
		t.Errorf("external edge added")
	}
	if !slices.Equal(graph.Successors(l.i), []*ir.InstrT{l.next, l.next}) {
		t.Errorf("successors %v", graph.Successors(l.i))
	}
	if len(graph.InEdges(l.next)) != 2 || len(graph.OutEdges(l.next)) != 0 {
		t.Errorf("edge lists wrong")
	}
}

func TestParseGraph(t *testing.T) {
	graph, err := ParseGraph(`
(graph
  (instr i phi) (instr i1 add) (instr c compare) (instr br if)
  (instr p indexAddr) (instr v load) (instr s store)
  (data i i1) (data i1 i) (data i c) (data c br)
  (data p v) (memory v s) (memory s v)
  (control br i1)
  (iv i i1))`)
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	if len(graph.Internal) != 7 || len(graph.Edges) != 8 {
		t.Errorf("%d instructions and %d edges", len(graph.Internal), len(graph.Edges))
	}
	byName := map[string]*ir.InstrT{}
	for _, instr := range graph.Internal {
		byName[instr.Name] = instr
	}
	if byName["br"].Op != ir.OpIf || !byName["p"].IsAddress() || byName["s"].Op != ir.OpStore {
		t.Errorf("wrong instruction kinds")
	}
	if !graph.InductionVariables.Contains(byName["i"]) || !graph.InductionVariables.Contains(byName["i1"]) {
		t.Errorf("induction variables not marked")
	}
	if !hasEdge(graph.Edges, MemoryDep, byName["v"], byName["s"]) {
		t.Errorf("memory edge missing")
	}

	for _, bad := range []string{
		`(tree)`,
		`(graph (instr a frob))`,
		`(graph (instr a phi) (instr a add))`,
		`(graph (instr a phi) (data a b))`,
		`(graph (instr a phi) (sideways a a))`,
	} {
		if _, err := ParseGraph(bad); err == nil {
			t.Errorf("%s parsed without error", bad)
		}
	}
}

//   header: i = phi(0, next); m = len(xs); c = i < m; if c goto body else exit
//   body:   kk = k * 2; w = kk + i; next = i + 1; goto header
//   exit:   return

func TestInvariants(t *testing.T) {
	fn := ir.NewFunc("bounded")
	xs := fn.AddParam("xs", types.NewSlice(intType))
	k := fn.AddParam("k", intType)
	entry := fn.NewBlock("entry")
	header := fn.NewBlock("header")
	body := fn.NewBlock("body")
	exit := fn.NewBlock("exit")
	entry.Append(fn.NewJump(header))

	i := fn.NewPhi(intType)
	m := fn.NewLen(xs)
	c := fn.NewCompare(token.LSS, i, m)
	header.Append(i, m, c, fn.NewIf(c, body, exit))
	kk := fn.NewBinop(token.MUL, k, ir.NewInt(intType, 2))
	w := fn.NewBinop(token.ADD, kk, i)
	next := fn.NewBinop(token.ADD, i, ir.NewInt(intType, 1))
	body.Append(kk, w, next, fn.NewJump(header))
	i.AddIncoming(ir.NewInt(intType, 0), entry)
	i.AddIncoming(next, body)
	exit.Append(fn.NewReturn())
	fn.ComputeCFG()

	graph := BuildLoop(fn, ir.FindLoops(fn)[0])
	if len(graph.Invariants) != 2 || !graph.Invariants.Contains(m) || !graph.Invariants.Contains(kk) {
		t.Errorf("invariants %v", graph.Invariants.Members())
	}
	if !graph.InductionVariables.Contains(i) || !graph.InductionVariables.Contains(next) {
		t.Errorf("i is not an induction variable")
	}
	// The bound is recomputed under the loop test.
	if !hasEdge(graph.Edges, ControlDep, header.Terminator(), m) {
		t.Errorf("len is not control dependent on the loop test")
	}

	parsed, err := ParseGraph(`(graph (instr n len) (instr c compare) (data n c) (invariant n))`)
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	if len(parsed.Invariants) != 1 || parsed.Invariants.Members()[0].Op != ir.OpLen {
		t.Errorf("parsed invariants %v", parsed.Invariants.Members())
	}
}
