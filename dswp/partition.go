// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Grouping SCC-DAG nodes into pipeline stages.
//
// Removable nodes are left out of the partitions altogether; each
// stage gets its own copy of the ones it uses.  Everything else is
// seeded one partition per node, or one per sub-loop when there are
// several, and then merged.  Partitions are merged along dependences
// when the combined cost stays under the cap, preferring merges that
// internalize the most SCC-DAG edges.  If that leaves more partitions
// than there are threads, the cheapest acyclic pairs are merged until
// it doesn't.

package dswp

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/sccdag"
	"github.com/s48/dswp/util"
)

type PartitionT struct {
	Id    int
	Nodes []*sccdag.NodeT // in ID order
	Cost  int
	Order int // stage number, set once partitioning is done
}

func (part *PartitionT) String() string {
	return fmt.Sprintf("part%d", part.Id)
}

type PartitioningT struct {
	DAG        *sccdag.DAGT
	Removable  util.SetT[*sccdag.NodeT]
	Partitions []*PartitionT // by Order once partitioning is done
	MaxCost    int

	partitionOf map[*sccdag.NodeT]*PartitionT
}

// Partitions 'dag'.  'loop' is used to find sub-loops and may be nil.

func Partition(dag *sccdag.DAGT, loop *ir.LoopT, options OptionsT) (*PartitioningT, error) {
	pt := &PartitioningT{
		DAG:         dag,
		Removable:   findRemovable(dag),
		partitionOf: map[*sccdag.NodeT]*PartitionT{},
	}
	total := 0
	for _, node := range dag.Nodes() {
		if !pt.Removable.Contains(node) {
			total += node.Cost()
		}
	}
	pt.MaxCost = (total + options.IdealThreads - 1) / options.IdealThreads

	if loop != nil && 1 < len(loop.Children) {
		pt.clusterSubLoops(loop)
	}
	for _, node := range dag.Nodes() {
		if !pt.Removable.Contains(node) && pt.partitionOf[node] == nil {
			pt.newPartition([]*sccdag.NodeT{node})
		}
	}
	if !options.ForceNoSCCPartition {
		pt.mergeAlongDependences()
		pt.foldDown(options.IdealThreads)
	}
	pt.assignOrder()

	if tlog.If("dswp,partitions") {
		tlog.Printw("partitions", "max_cost", pt.MaxCost, "removable", len(pt.Removable), "dump", pt.String())
	}
	if len(pt.Partitions) <= 1 {
		return pt, errors.Wrap(ErrNotProfitable, "%d partition(s)", len(pt.Partitions))
	}
	return pt, nil
}

func (pt *PartitioningT) PartitionOf(node *sccdag.NodeT) *PartitionT {
	return pt.partitionOf[node]
}

// The partition owning 'instr', or nil if the instruction is in a
// removable node.

func (pt *PartitioningT) OwnerOf(instr *ir.InstrT) *PartitionT {
	node := pt.DAG.NodeOf(instr)
	if node == nil {
		return nil
	}
	return pt.partitionOf[node]
}

func (pt *PartitioningT) IsRemovable(instr *ir.InstrT) bool {
	node := pt.DAG.NodeOf(instr)
	return node != nil && pt.Removable.Contains(node)
}

//----------------------------------------------------------------
// Removable nodes.
//
// The seeds are nodes holding only jumps, and nodes made of
// induction variables plus the comparisons and branches that test
// them and any loop-invariant bounds they are compared against.  Pure nodes whose every use is in a removable node are added.
// Finally any node with a dependence on a non-removable node is
// dropped, so that copying a removable node never requires a queue.

func findRemovable(dag *sccdag.DAGT) util.SetT[*sccdag.NodeT] {
	ivs := dag.Graph.InductionVariables
	invariants := dag.Graph.Invariants
	removable := util.NewSet[*sccdag.NodeT]()
	for _, node := range dag.Nodes() {
		jumpsOnly := util.Every(func(instr *ir.InstrT) bool { return instr.Op == ir.OpJump }, node.Instrs)
		hasIv := util.Any(ivs.Contains, node.Instrs)
		governing := util.Every(func(instr *ir.InstrT) bool {
			return ivs.Contains(instr) ||
				invariants.Contains(instr) ||
				instr.Op == ir.OpCompare ||
				(instr.IsTerminator() && instr.Op != ir.OpReturn)
		}, node.Instrs)
		if jumpsOnly || (hasIv && governing) {
			removable.Add(node)
		}
	}

	nodes := dag.Nodes()
	for changed := true; changed; {
		changed = false
		for i := len(nodes) - 1; 0 <= i; i-- {
			node := nodes[i]
			succs := dag.NextDepthNodes(node)
			if !removable.Contains(node) && isPure(node) && 0 < len(succs) && util.Every(removable.Contains, succs) {
				removable.Add(node)
				changed = true
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for _, node := range nodes {
			if removable.Contains(node) && !util.Every(removable.Contains, dag.PreviousDepthNodes(node)) {
				removable.Remove(node)
				changed = true
			}
		}
	}
	return removable
}

// No memory operations, allocation or control flow.

func isPure(node *sccdag.NodeT) bool {
	return util.Every(func(instr *ir.InstrT) bool {
		return !instr.IsMemory() && !instr.IsTerminator() && instr.Op != ir.OpAlloca
	}, node.Instrs)
}

//----------------------------------------------------------------
// Partition bookkeeping

func (pt *PartitioningT) newPartition(nodes []*sccdag.NodeT) *PartitionT {
	id := slices.MinFunc(nodes, func(x, y *sccdag.NodeT) int { return x.Id - y.Id }).Id
	part := &PartitionT{Id: id}
	pt.addNodes(part, nodes)
	pt.Partitions = append(pt.Partitions, part)
	pt.sortPartitions()
	return part
}

func (pt *PartitioningT) addNodes(part *PartitionT, nodes []*sccdag.NodeT) {
	for _, node := range nodes {
		part.Nodes = append(part.Nodes, node)
		part.Cost += node.Cost()
		pt.partitionOf[node] = part
	}
	slices.SortFunc(part.Nodes, func(x, y *sccdag.NodeT) int { return x.Id - y.Id })
}

func (pt *PartitioningT) sortPartitions() {
	slices.SortFunc(pt.Partitions, func(x, y *PartitionT) int { return x.Id - y.Id })
}

// Merges 'y' into 'x'; the result keeps the lower of the two IDs.

func (pt *PartitioningT) merge(x *PartitionT, y *PartitionT) *PartitionT {
	pt.addNodes(x, y.Nodes)
	x.Id = min(x.Id, y.Id)
	pt.Partitions = slices.DeleteFunc(pt.Partitions, func(part *PartitionT) bool { return part == y })
	pt.sortPartitions()
	tlog.V("partition").Printw("merged partitions", "into", x, "cost", x.Cost)
	return x
}

func (pt *PartitioningT) isLive(part *PartitionT) bool {
	return slices.Contains(pt.Partitions, part)
}

// Partitions that 'part' has a direct dependence on, in ID order.

func (pt *PartitioningT) Dependents(part *PartitionT) []*PartitionT {
	return pt.neighbors(part, pt.DAG.NextDepthNodes)
}

func (pt *PartitioningT) Ancestors(part *PartitionT) []*PartitionT {
	return pt.neighbors(part, pt.DAG.PreviousDepthNodes)
}

func (pt *PartitioningT) neighbors(part *PartitionT, next func(*sccdag.NodeT) []*sccdag.NodeT) []*PartitionT {
	result := util.NewSet[*PartitionT]()
	for _, node := range part.Nodes {
		for _, other := range next(node) {
			if otherPart := pt.partitionOf[other]; otherPart != nil && otherPart != part {
				result.Add(otherPart)
			}
		}
	}
	return util.SortedFunc(result, func(x, y *PartitionT) int { return x.Id - y.Id })
}

// The number of SCC-DAG edges between 'x' and 'y', in either
// direction.

func (pt *PartitioningT) squashedEdges(x *PartitionT, y *PartitionT) int {
	count := 0
	for _, edge := range pt.DAG.Edges() {
		from := pt.partitionOf[pt.DAG.Node(edge.From)]
		to := pt.partitionOf[pt.DAG.Node(edge.To)]
		if (from == x && to == y) || (from == y && to == x) {
			count += 1
		}
	}
	return count
}

// Merging 'x' and 'y' creates a cycle if there is a path between them
// that passes through some other partition.

func (pt *PartitioningT) mergeCreatesCycle(x *PartitionT, y *PartitionT) bool {
	return pt.indirectPath(x, y) || pt.indirectPath(y, x)
}

func (pt *PartitioningT) indirectPath(from *PartitionT, to *PartitionT) bool {
	for _, next := range pt.Dependents(from) {
		if next != to && util.Reachable(next, to, pt.Dependents) {
			return true
		}
	}
	return false
}

//----------------------------------------------------------------
// The merge heuristics

// Each immediate sub-loop's nodes become a single partition.  The
// cluster is extended with any node on a path between two of its
// members; if one of those already belongs to another cluster the
// sub-loop is left unclustered.

func (pt *PartitioningT) clusterSubLoops(loop *ir.LoopT) {
	children := slices.Clone(loop.Children)
	slices.SortFunc(children, func(x, y *ir.LoopT) int { return x.Header.Id - y.Header.Id })
	for _, child := range children {
		members := util.NewSet[*sccdag.NodeT]()
		for _, node := range pt.DAG.Nodes() {
			if !pt.Removable.Contains(node) && pt.partitionOf[node] == nil &&
				util.Every(child.ContainsInstr, node.Instrs) {
				members.Add(node)
			}
		}
		if len(members) == 0 {
			continue
		}
		ok := true
		for _, node := range pt.DAG.Nodes() {
			if members.Contains(node) || pt.Removable.Contains(node) {
				continue
			}
			if pt.reachesSome(members, node) && pt.reachedBySome(members, node) {
				if pt.partitionOf[node] != nil {
					ok = false
					break
				}
				members.Add(node)
			}
		}
		if ok {
			part := pt.newPartition(members.Members())
			tlog.V("partition").Printw("sub-loop cluster", "header", child.Header, "partition", part, "nodes", len(part.Nodes))
		}
	}
}

func (pt *PartitioningT) reachesSome(members util.SetT[*sccdag.NodeT], node *sccdag.NodeT) bool {
	for member := range members {
		if pt.DAG.Reaches(member, node) {
			return true
		}
	}
	return false
}

func (pt *PartitioningT) reachedBySome(members util.SetT[*sccdag.NodeT], node *sccdag.NodeT) bool {
	for member := range members {
		if pt.DAG.Reaches(node, member) {
			return true
		}
	}
	return false
}

func (pt *PartitioningT) mergeAlongDependences() {
	queue := util.QueueT[*PartitionT]{}
	seen := util.NewSet[*PartitionT]()
	for _, part := range pt.Partitions {
		if len(pt.Ancestors(part)) == 0 {
			queue.Enqueue(part)
			seen.Add(part)
		}
	}
	for !queue.Empty() {
		part := queue.Dequeue()
		if !pt.isLive(part) {
			continue
		}
		var best *PartitionT
		bestSquashed := -1
		dependents := pt.Dependents(part)
		for _, dependent := range dependents {
			if pt.MaxCost < part.Cost+dependent.Cost || pt.mergeCreatesCycle(part, dependent) {
				continue
			}
			if squashed := pt.squashedEdges(part, dependent); bestSquashed < squashed {
				best = dependent
				bestSquashed = squashed
			}
		}
		if best != nil {
			queue.Enqueue(pt.merge(part, best))
			continue
		}
		for _, dependent := range dependents {
			if !seen.Contains(dependent) {
				seen.Add(dependent)
				queue.Enqueue(dependent)
			}
		}
	}
}

func (pt *PartitioningT) foldDown(idealThreads int) {
	for idealThreads < len(pt.Partitions) {
		var bestX, bestY *PartitionT
		var bestKey []int
		for i, x := range pt.Partitions {
			for _, y := range pt.Partitions[i+1:] {
				if pt.mergeCreatesCycle(x, y) {
					continue
				}
				cost := x.Cost + y.Cost
				overCap := 0
				if pt.MaxCost < cost {
					overCap = 1
				}
				// Smaller is better.
				key := []int{overCap, -pt.squashedEdges(x, y), cost, x.Id, y.Id}
				if bestKey == nil || slices.Compare(key, bestKey) < 0 {
					bestX, bestY, bestKey = x, y, key
				}
			}
		}
		if bestX == nil {
			return
		}
		pt.merge(bestX, bestY)
	}
}

// Stage order is a topological sort of the partitions, taking the
// lowest ID among the ready ones.

func (pt *PartitioningT) assignOrder() {
	waiting := map[*PartitionT]int{}
	ready := util.NewPriorityQueue(func(x, y *PartitionT) int { return x.Id - y.Id })
	for _, part := range pt.Partitions {
		waiting[part] = len(pt.Ancestors(part))
		if waiting[part] == 0 {
			ready.Enqueue(part)
		}
	}
	ordered := []*PartitionT{}
	for !ready.Empty() {
		part := ready.Dequeue()
		part.Order = len(ordered)
		ordered = append(ordered, part)
		for _, next := range pt.Dependents(part) {
			waiting[next] -= 1
			if waiting[next] == 0 {
				ready.Enqueue(next)
			}
		}
	}
	if len(ordered) != len(pt.Partitions) {
		panic("cycle in partition graph")
	}
	pt.Partitions = ordered
}

//----------------------------------------------------------------

func (pt *PartitioningT) Fprint(out io.Writer) {
	for _, part := range pt.Partitions {
		fmt.Fprintf(out, "stage %d %s cost %d:", part.Order, part, part.Cost)
		for _, node := range part.Nodes {
			fmt.Fprintf(out, " %s", node)
		}
		fmt.Fprintln(out)
	}
	removable := util.SortedFunc(pt.Removable, func(x, y *sccdag.NodeT) int { return x.Id - y.Id })
	if 0 < len(removable) {
		fmt.Fprintf(out, "removable:")
		for _, node := range removable {
			fmt.Fprintf(out, " %s", node)
		}
		fmt.Fprintln(out)
	}
}

func (pt *PartitioningT) String() string {
	var out strings.Builder
	pt.Fprint(&out)
	return out.String()
}
