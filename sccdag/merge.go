// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package sccdag

import (
	"go/types"

	"github.com/nikandfor/tlog"

	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/pdg"
	"github.com/s48/dswp/util"
)

// Removes nodes that would make poor pipeline stages by merging them
// into their neighbors.  The rules are applied until none applies:
//  - the ends of an edge whose producer computes an address, or loads
//    a pointer, are merged
//  - a node that is a lone PHI with a single outgoing edge is merged
//    into its successor
//  - a node with no outgoing edges that holds only comparisons and
//    terminators is merged into its lowest-numbered predecessor
// Returns the number of merges done.

func (dag *DAGT) MergeToFixpoint() int {
	count := 0
	for {
		set, rule := dag.findMerge()
		if set == nil {
			break
		}
		merged := dag.Merge(set)
		tlog.V("merge").Printw("merged", "rule", rule, "nodes", set, "into", merged)
		count += 1
	}
	return count
}

func (dag *DAGT) findMerge() ([]*NodeT, string) {
	nodes := dag.Nodes()
	for _, node := range nodes {
		for _, edge := range dag.OutEdges(node) {
			if isAddressEdge(edge) {
				return []*NodeT{node, dag.nodes[edge.To]}, "address"
			}
		}
	}
	for _, node := range nodes {
		if len(node.Instrs) == 1 && node.Instrs[0].IsPhi() && len(node.out) == 1 {
			return []*NodeT{node, dag.NextDepthNodes(node)[0]}, "phi"
		}
	}
	for _, node := range nodes {
		if 0 < len(node.in) && len(node.out) == 0 && isBranchOnly(node) {
			return []*NodeT{node, dag.PreviousDepthNodes(node)[0]}, "branch"
		}
	}
	return nil, ""
}

func isAddressEdge(edge *EdgeT) bool {
	return util.Any(func(dep *pdg.EdgeT) bool {
		producer, ok := dep.From.(*ir.InstrT)
		if !ok {
			return false
		}
		if producer.IsAddress() {
			return true
		}
		if producer.Op == ir.OpLoad {
			_, isPointer := producer.Typ.Underlying().(*types.Pointer)
			return isPointer
		}
		return false
	}, edge.Deps)
}

func isBranchOnly(node *NodeT) bool {
	return util.Every(func(instr *ir.InstrT) bool {
		return instr.Op == ir.OpCompare || instr.IsTerminator()
	}, node.Instrs)
}
