// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The DAG of strongly connected components of a loop's dependence
// graph.  Nodes live in an arena and are referred to by index.
// Merging nodes forwards the absorbed nodes to the survivor, so an
// index found before a merge is still usable afterwards.

package sccdag

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/pdg"
	"github.com/s48/dswp/util"
)

type NodeT struct {
	Id     int
	Instrs []*ir.InstrT // in dependence-graph order

	out        map[int]*EdgeT // keyed by target ID
	in         map[int]*EdgeT // keyed by source ID
	mergedInto int            // -1 for live nodes
}

func (node *NodeT) String() string {
	return fmt.Sprintf("scc%d", node.Id)
}

func (node *NodeT) Cost() int {
	cost := 0
	for _, instr := range node.Instrs {
		cost += instr.Cost()
	}
	return cost
}

func (node *NodeT) Contains(instr *ir.InstrT) bool {
	return slices.Contains(node.Instrs, instr)
}

// A DAG edge bundles all of the dependence edges between two nodes.

type EdgeT struct {
	From int
	To   int
	Deps []*pdg.EdgeT
}

type DAGT struct {
	Graph *pdg.GraphT

	nodes  []*NodeT
	nodeOf map[*ir.InstrT]int
	order  map[*ir.InstrT]int // position in Graph.Internal
}

func Build(graph *pdg.GraphT) *DAGT {
	dag := &DAGT{
		Graph:  graph,
		nodeOf: map[*ir.InstrT]int{},
		order:  map[*ir.InstrT]int{},
	}
	for i, instr := range graph.Internal {
		dag.order[instr] = i
	}
	for _, component := range util.StronglyConnectedComponents(graph.Internal, graph.Successors) {
		node := &NodeT{
			Id:         len(dag.nodes),
			Instrs:     component,
			out:        map[int]*EdgeT{},
			in:         map[int]*EdgeT{},
			mergedInto: -1,
		}
		dag.nodes = append(dag.nodes, node)
		for _, instr := range component {
			dag.nodeOf[instr] = node.Id
		}
	}
	for _, dep := range graph.Edges {
		from := dag.nodeOf[dep.From.(*ir.InstrT)]
		to := dag.nodeOf[dep.To.(*ir.InstrT)]
		if from != to {
			dag.addDep(from, to, dep)
		}
	}
	return dag
}

func (dag *DAGT) addDep(from int, to int, deps ...*pdg.EdgeT) {
	edge := dag.nodes[from].out[to]
	if edge == nil {
		edge = &EdgeT{From: from, To: to}
		dag.nodes[from].out[to] = edge
		dag.nodes[to].in[from] = edge
	}
	edge.Deps = append(edge.Deps, deps...)
}

// Follows forwarding pointers, compressing the path as we go.

func (dag *DAGT) find(id int) int {
	root := id
	for dag.nodes[root].mergedInto != -1 {
		root = dag.nodes[root].mergedInto
	}
	for dag.nodes[id].mergedInto != -1 {
		next := dag.nodes[id].mergedInto
		dag.nodes[id].mergedInto = root
		id = next
	}
	return root
}

// The live node with the given ID, or the one it was merged into.

func (dag *DAGT) Node(id int) *NodeT {
	return dag.nodes[dag.find(id)]
}

func (dag *DAGT) NodeOf(instr *ir.InstrT) *NodeT {
	id, found := dag.nodeOf[instr]
	if !found {
		return nil
	}
	return dag.Node(id)
}

// Live nodes in ID order.

func (dag *DAGT) Nodes() []*NodeT {
	return util.Filter(func(node *NodeT) bool { return node.mergedInto == -1 }, dag.nodes)
}

func (dag *DAGT) Size() int {
	return len(dag.Nodes())
}

func sortedEdges(edges map[int]*EdgeT) []*EdgeT {
	result := make([]*EdgeT, 0, len(edges))
	for _, edge := range edges {
		result = append(result, edge)
	}
	slices.SortFunc(result, func(x, y *EdgeT) int {
		if x.From != y.From {
			return x.From - y.From
		}
		return x.To - y.To
	})
	return result
}

func (dag *DAGT) OutEdges(node *NodeT) []*EdgeT {
	return sortedEdges(node.out)
}

func (dag *DAGT) InEdges(node *NodeT) []*EdgeT {
	return sortedEdges(node.in)
}

// Every edge, ordered by source and then target.

func (dag *DAGT) Edges() []*EdgeT {
	result := []*EdgeT{}
	for _, node := range dag.Nodes() {
		result = append(result, dag.OutEdges(node)...)
	}
	return result
}

// Nodes with no incoming edges.

func (dag *DAGT) TopLevelNodes() []*NodeT {
	return util.Filter(func(node *NodeT) bool { return len(node.in) == 0 }, dag.Nodes())
}

// Immediate predecessors, in ID order.

func (dag *DAGT) PreviousDepthNodes(node *NodeT) []*NodeT {
	return util.Map(func(edge *EdgeT) *NodeT { return dag.nodes[edge.From] }, dag.InEdges(node))
}

// Immediate successors, in ID order.

func (dag *DAGT) NextDepthNodes(node *NodeT) []*NodeT {
	return util.Map(func(edge *EdgeT) *NodeT { return dag.nodes[edge.To] }, dag.OutEdges(node))
}

// True if there is a path of one or more edges from 'from' to 'to'.

func (dag *DAGT) Reaches(from *NodeT, to *NodeT) bool {
	return util.Reachable(from, to, dag.NextDepthNodes)
}

// Collapses 'nodes' into a single node and returns it.  The set is
// first extended with every node that lies on a path between two of
// its members, as leaving those out would create a cycle.  The
// surviving node is the one with the lowest ID.

func (dag *DAGT) Merge(nodes []*NodeT) *NodeT {
	members := util.NewSet[*NodeT]()
	for _, node := range nodes {
		members.Add(dag.Node(node.Id))
	}
	forward := dag.closure(members, dag.NextDepthNodes)
	backward := dag.closure(members, dag.PreviousDepthNodes)
	members = members.Union(forward.Intersection(backward))
	merged := util.SortedFunc(members, func(x, y *NodeT) int { return x.Id - y.Id })
	survivor := merged[0]
	if len(merged) == 1 {
		return survivor
	}
	isMember := func(id int) bool { return members.Contains(dag.nodes[id]) }

	for _, node := range merged[1:] {
		for _, edge := range dag.OutEdges(node) {
			delete(dag.nodes[edge.To].in, node.Id)
			if !isMember(edge.To) {
				dag.addDep(survivor.Id, edge.To, edge.Deps...)
			}
		}
		for _, edge := range dag.InEdges(node) {
			delete(dag.nodes[edge.From].out, node.Id)
			if !isMember(edge.From) {
				dag.addDep(edge.From, survivor.Id, edge.Deps...)
			}
		}
		survivor.Instrs = append(survivor.Instrs, node.Instrs...)
		node.Instrs = nil
		node.out = map[int]*EdgeT{}
		node.in = map[int]*EdgeT{}
		node.mergedInto = survivor.Id
	}
	// Edges between the survivor and other members are now internal.
	for id := range survivor.out {
		if isMember(id) {
			delete(survivor.out, id)
		}
	}
	for id := range survivor.in {
		if isMember(id) {
			delete(survivor.in, id)
		}
	}
	slices.SortFunc(survivor.Instrs, func(x, y *ir.InstrT) int {
		return dag.order[x] - dag.order[y]
	})
	return survivor
}

// Every node reachable from 'start' by one or more steps.

func (dag *DAGT) closure(start util.SetT[*NodeT], next func(*NodeT) []*NodeT) util.SetT[*NodeT] {
	result := util.NewSet[*NodeT]()
	todo := util.StackT[*NodeT]{}
	for node := range start {
		todo.Push(next(node)...)
	}
	for !todo.Empty() {
		node := todo.Pop()
		if result.Contains(node) {
			continue
		}
		result.Add(node)
		todo.Push(next(node)...)
	}
	return result
}

//----------------------------------------------------------------
// Printing

func (dag *DAGT) Fprint(out io.Writer) {
	writer := ir.MakePpWriter(out)
	for _, node := range dag.Nodes() {
		fmt.Fprintf(writer, "%s cost %d:", node, node.Cost())
		for _, instr := range node.Instrs {
			fmt.Fprintf(writer, " %s", instr)
		}
		writer.Newline()
		for _, edge := range dag.OutEdges(node) {
			writer.IndentTo(2)
			kinds := util.Map(func(dep *pdg.EdgeT) string { return dep.Kind.String() }, edge.Deps)
			slices.Sort(kinds)
			fmt.Fprintf(writer, "-> %s %s", dag.nodes[edge.To], strings.Join(slices.Compact(kinds), ","))
			writer.Newline()
		}
	}
}

func (dag *DAGT) String() string {
	var out strings.Builder
	dag.Fprint(&out)
	return out.String()
}
