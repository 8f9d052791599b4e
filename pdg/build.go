// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package pdg

import (
	"go/token"
	"slices"

	"github.com/nikandfor/tlog"

	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/util"
)

// Builds the dependence graph for 'loop'.  The function's CFG must be
// current.
//
// Memory dependence is conservative: every pair of memory operations
// where at least one may write gets an edge in each direction, one of
// which is loop carried.
//
// Control dependence comes from the post-dominator tree.  A PHI also
// depends on the branches that decide which of its predecessors is
// taken.

func BuildLoop(fn *ir.FuncT, loop *ir.LoopT) *GraphT {
	graph := NewGraph(loop.Instrs())
	graph.Loop = loop

	for _, instr := range graph.Internal {
		for _, operand := range instr.Operands {
			switch operand.(type) {
			case *ir.InstrT, *ir.ParamT:
				graph.AddEdge(DataDep, operand, instr)
			}
		}
	}
	for _, block := range fn.Blocks {
		if loop.Contains(block) {
			continue
		}
		for _, instr := range block.Instrs {
			for _, operand := range instr.Operands {
				if graph.IsInternal(operand) {
					graph.AddEdge(DataDep, operand, instr)
				}
			}
		}
	}

	memory := slices.DeleteFunc(slices.Clone(graph.Internal), func(instr *ir.InstrT) bool {
		return !instr.IsMemory()
	})
	for i, x := range memory {
		for _, y := range memory[i+1:] {
			if x.WritesMemory() || y.WritesMemory() {
				graph.AddEdge(MemoryDep, x, y)
				graph.AddEdge(MemoryDep, y, x)
			}
		}
	}

	pdom := ir.PostDominators(fn)
	deps := ir.ControlDependences(fn, pdom)
	for _, block := range loop.BlockList() {
		for _, controller := range deps[block] {
			if !loop.Contains(controller) {
				continue
			}
			term := controller.Terminator()
			for _, instr := range block.Instrs {
				graph.AddEdge(ControlDep, term, instr)
			}
		}
		for _, phi := range block.Phis() {
			for _, pred := range phi.Edges {
				if !loop.Contains(pred) {
					continue
				}
				controllers := slices.Clone(deps[pred])
				if 1 < len(pred.Succs) {
					controllers = append(controllers, pred)
				}
				for _, controller := range controllers {
					if loop.Contains(controller) {
						graph.AddEdge(ControlDep, controller.Terminator(), phi)
					}
				}
			}
		}
	}

	findInductionVariables(graph)
	findInvariants(graph)
	tlog.V("pdg").Printw("dependence graph", "func", fn.Name, "header", loop.Header,
		"instrs", len(graph.Internal), "edges", len(graph.Edges),
		"incoming", len(graph.Incoming), "outgoing", len(graph.Outgoing),
		"ivs", len(graph.InductionVariables), "invariants", len(graph.Invariants))
	return graph
}

// A basic induction variable is a header PHI whose value around every
// back edge is the PHI plus or minus a loop-invariant amount.  Both
// the PHI and the update are marked.

func findInductionVariables(graph *GraphT) {
	loop := graph.Loop
	for _, phi := range loop.Header.Phis() {
		var update *ir.InstrT
		ok := true
		for i, edge := range phi.Edges {
			if !loop.Contains(edge) {
				continue
			}
			instr, isInstr := phi.Operands[i].(*ir.InstrT)
			if !isInstr || (update != nil && update != instr) || !isStep(graph, phi, instr) {
				ok = false
				break
			}
			update = instr
		}
		if ok && update != nil {
			graph.InductionVariables.Add(phi, update)
		}
	}
}

func isStep(graph *GraphT, phi *ir.InstrT, update *ir.InstrT) bool {
	if update.Op != ir.OpBinop || (update.Token != token.ADD && update.Token != token.SUB) {
		return false
	}
	x, y := update.Operands[0], update.Operands[1]
	if update.Token == token.ADD && y == phi {
		x, y = y, x
	}
	return x == phi && !graph.IsInternal(y)
}

// An instruction is loop invariant if it has no side effects, does
// not read memory, and its operands are all defined outside the loop
// or are themselves invariant.  Typically this is a bound such as
// len(xs) that is recomputed in the loop header.

func findInvariants(graph *GraphT) {
	for changed := true; changed; {
		changed = false
		for _, instr := range graph.Internal {
			if graph.Invariants.Contains(instr) || !hasNoEffects(instr) {
				continue
			}
			invariant := util.Every(func(operand ir.ValueT) bool {
				producer, ok := operand.(*ir.InstrT)
				return !ok || !graph.IsInternal(producer) || graph.Invariants.Contains(producer)
			}, instr.Operands)
			if invariant {
				graph.Invariants.Add(instr)
				changed = true
			}
		}
	}
}

func hasNoEffects(instr *ir.InstrT) bool {
	switch instr.Op {
	case ir.OpBinop, ir.OpCompare, ir.OpUnop, ir.OpConvert, ir.OpLen, ir.OpIndexAddr, ir.OpElementPtr:
		return true
	}
	return false
}
