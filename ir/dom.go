// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Dominator and post-dominator trees, and control dependence.

package ir

import (
	"slices"
)

// Immediate dominators.  The root maps to nil, as do blocks that are
// unreachable from the root.  For post-dominator trees the root is a
// virtual exit that is the successor of every returning block, so
// blocks whose immediate post-dominator is that exit also map to nil.

type DomTreeT struct {
	idom    map[*BlockT]*BlockT
	reached map[*BlockT]bool
}

func (tree *DomTreeT) Idom(block *BlockT) *BlockT {
	return tree.idom[block]
}

// Reflexive: every reached block dominates itself.

func (tree *DomTreeT) Dominates(a *BlockT, b *BlockT) bool {
	if !tree.reached[b] {
		return false
	}
	for runner := b; runner != nil; runner = tree.idom[runner] {
		if runner == a {
			return true
		}
	}
	return false
}

func Dominators(fn *FuncT) *DomTreeT {
	tree := &DomTreeT{idom: map[*BlockT]*BlockT{}, reached: map[*BlockT]bool{}}
	entry := fn.Entry()
	findDominators(entry,
		func(b *BlockT) []*BlockT { return b.Succs },
		func(b *BlockT, d *BlockT) {
			tree.reached[b] = true
			if b != entry {
				tree.idom[b] = d
			}
		})
	return tree
}

func PostDominators(fn *FuncT) *DomTreeT {
	tree := &DomTreeT{idom: map[*BlockT]*BlockT{}, reached: map[*BlockT]bool{}}
	exit := &BlockT{Name: "exit"}
	for _, block := range fn.Blocks {
		if len(block.Succs) == 0 {
			exit.Preds = append(exit.Preds, block)
		}
	}
	findDominators(exit,
		func(b *BlockT) []*BlockT { return b.Preds },
		func(b *BlockT, d *BlockT) {
			if b == exit {
				return
			}
			tree.reached[b] = true
			if d != exit {
				tree.idom[b] = d
			}
		})
	return tree
}

// Cooper, Harvey and Kennedy's "A Simple, Fast Dominance Algorithm".
// 'setResult' is called with each node reachable from 'rootNode'
// and its immediate dominator, the root being its own dominator.

func findDominators[T comparable](rootNode T, succ func(T) []T, setResult func(T, T)) {
	nodes := []T{}
	indexes := map[T]int{}
	var findNodes func(node T)
	findNodes = func(node T) {
		nodes = append(nodes, node)
		indexes[node] = 1 // just a placeholder
		for _, child := range succ(node) {
			if indexes[child] == 0 {
				findNodes(child)
			}
		}
	}
	findNodes(rootNode)
	slices.Reverse(nodes)
	for i, node := range nodes {
		indexes[node] = i
	}
	predecessors := map[int][]int{}
	// Walk the nodes in preorder so that each node's first predecessor
	// comes before it in the preorder.
	for i := len(nodes) - 1; 0 <= i; i-- {
		for _, successor := range succ(nodes[i]) {
			index := indexes[successor]
			predecessors[index] = append(predecessors[index], i)
		}
	}
	// The start node has the highest index.
	root := len(nodes) - 1
	doms := make([]int, len(nodes))
	for i := range doms {
		doms[i] = -1
	}
	doms[root] = root
	for changed := true; changed; {
		changed = false
		for i := root - 1; 0 <= i; i-- {
			newIdom := predecessors[i][0]
			for _, other := range predecessors[i][1:] {
				if doms[other] == -1 {
					continue
				}
				for other != newIdom {
					for other < newIdom {
						other = doms[other]
					}
					for newIdom < other {
						newIdom = doms[newIdom]
					}
				}
			}
			if doms[i] != newIdom {
				doms[i] = newIdom
				changed = true
			}
		}
	}
	for i, node := range nodes {
		setResult(node, nodes[doms[i]])
	}
}

// Returns, for each block, the blocks whose terminators it is
// control dependent on, in block order.  Block B is control dependent
// on A if A has a successor S such that B post-dominates S but does
// not strictly post-dominate A.

func ControlDependences(fn *FuncT, pdom *DomTreeT) map[*BlockT][]*BlockT {
	result := map[*BlockT][]*BlockT{}
	for _, block := range fn.Blocks {
		if len(block.Succs) < 2 {
			continue
		}
		stop := pdom.Idom(block)
		for _, succ := range block.Succs {
			for runner := succ; runner != nil && runner != stop; runner = pdom.Idom(runner) {
				if !slices.Contains(result[runner], block) {
					result[runner] = append(result[runner], block)
				}
			}
		}
	}
	return result
}
