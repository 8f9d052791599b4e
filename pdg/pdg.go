// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Dependence graphs for loops.  The nodes are the loop's
// instructions; edges are data, memory or control dependences
// between them.  Values flowing into or out of the loop are kept as
// separate external edges.

package pdg

import (
	"fmt"

	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/util"
)

type KindT int

const (
	DataDep KindT = iota
	MemoryDep
	ControlDep
)

func (kind KindT) String() string {
	return [...]string{"data", "memory", "control"}[kind]
}

type EdgeT struct {
	Kind KindT
	From ir.ValueT
	To   ir.ValueT
}

func (edge *EdgeT) String() string {
	return fmt.Sprintf("%s %v -> %v", edge.Kind, edge.From, edge.To)
}

type edgeKeyT struct {
	kind KindT
	from ir.ValueT
	to   ir.ValueT
}

type GraphT struct {
	Loop     *ir.LoopT // nil for hand-built graphs
	Internal []*ir.InstrT
	Edges    []*EdgeT // between internal instructions
	Incoming []*EdgeT // from values defined outside the loop
	Outgoing []*EdgeT // to instructions outside the loop

	// Set by the induction-variable analysis, or by hand.
	InductionVariables util.SetT[*ir.InstrT]
	// Pure instructions computed only from values defined outside
	// the loop.
	Invariants util.SetT[*ir.InstrT]

	internal util.SetT[*ir.InstrT]
	out      map[*ir.InstrT][]*EdgeT
	in       map[*ir.InstrT][]*EdgeT
	seen     map[edgeKeyT]*EdgeT
}

func NewGraph(instrs []*ir.InstrT) *GraphT {
	return &GraphT{
		Internal:           instrs,
		InductionVariables: util.NewSet[*ir.InstrT](),
		Invariants:         util.NewSet[*ir.InstrT](),
		internal:           util.NewSet(instrs...),
		out:                map[*ir.InstrT][]*EdgeT{},
		in:                 map[*ir.InstrT][]*EdgeT{},
		seen:               map[edgeKeyT]*EdgeT{},
	}
}

func (graph *GraphT) IsInternal(value ir.ValueT) bool {
	instr, ok := value.(*ir.InstrT)
	return ok && graph.internal.Contains(instr)
}

// Adds an edge unless it is already present.  Edges with neither end
// inside the loop are ignored.

func (graph *GraphT) AddEdge(kind KindT, from ir.ValueT, to ir.ValueT) *EdgeT {
	key := edgeKeyT{kind, from, to}
	if edge := graph.seen[key]; edge != nil {
		return edge
	}
	fromInternal := graph.IsInternal(from)
	toInternal := graph.IsInternal(to)
	if !fromInternal && !toInternal {
		return nil
	}
	edge := &EdgeT{Kind: kind, From: from, To: to}
	graph.seen[key] = edge
	switch {
	case fromInternal && toInternal:
		graph.Edges = append(graph.Edges, edge)
		graph.out[from.(*ir.InstrT)] = append(graph.out[from.(*ir.InstrT)], edge)
		graph.in[to.(*ir.InstrT)] = append(graph.in[to.(*ir.InstrT)], edge)
	case toInternal:
		graph.Incoming = append(graph.Incoming, edge)
	default:
		graph.Outgoing = append(graph.Outgoing, edge)
	}
	return edge
}

func (graph *GraphT) OutEdges(instr *ir.InstrT) []*EdgeT {
	return graph.out[instr]
}

func (graph *GraphT) InEdges(instr *ir.InstrT) []*EdgeT {
	return graph.in[instr]
}

func (graph *GraphT) Successors(instr *ir.InstrT) []*ir.InstrT {
	return util.Map(func(edge *EdgeT) *ir.InstrT { return edge.To.(*ir.InstrT) }, graph.out[instr])
}

// True if there is a path of one or more edges from 'from' to 'to'.

func (graph *GraphT) Reaches(from *ir.InstrT, to *ir.InstrT) bool {
	return util.Reachable(from, to, graph.Successors)
}

// Values defined outside the loop and used inside it, in order of
// first use.

func (graph *GraphT) ExternalInputs() []ir.ValueT {
	result := []ir.ValueT{}
	seen := map[ir.ValueT]bool{}
	for _, edge := range graph.Incoming {
		if edge.Kind == DataDep && !seen[edge.From] {
			seen[edge.From] = true
			result = append(result, edge.From)
		}
	}
	return result
}
