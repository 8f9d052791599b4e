// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Strongly connected components of a graph using Kosaraju's
// algorithm.

package util

// inputs: nodes in some graph
// edges: returns the nodes that a node has an edge to
// Returns the strongly connected components in topological order.
// Nodes within a component appear in the order of 'inputs', and
// edges to nodes not in 'inputs' are ignored.

func StronglyConnectedComponents[K comparable](inputs []K, edges func(K) []K) [][]K {
	nodes := make([]*sccNodeT, len(inputs))
	lookup := map[K]*sccNodeT{}
	for i, input := range inputs {
		nodes[i] = &sccNodeT{index: i}
		lookup[input] = nodes[i]
	}
	for i, parent := range inputs {
		parentNode := nodes[i]
		for _, child := range edges(parent) {
			childNode := lookup[child]
			if childNode == nil {
				continue
			}
			parentNode.children = append(parentNode.children, childNode)
			childNode.parents = append(childNode.parents, parentNode)
		}
	}
	order := make([]*sccNodeT, 0, len(nodes))
	for _, node := range nodes {
		visitPostorder(node, false, func(n *sccNodeT) { order = append(order, n) })
	}
	for _, node := range nodes {
		node.seen = false
	}
	result := [][]K{}
	for i := len(order) - 1; 0 <= i; i-- {
		members := []int{}
		visitPostorder(order[i], true, func(n *sccNodeT) { members = append(members, n.index) })
		if len(members) == 0 {
			continue
		}
		sortInts(members)
		component := make([]K, len(members))
		for j, index := range members {
			component[j] = inputs[index]
		}
		result = append(result, component)
	}
	return result
}

type sccNodeT struct {
	index    int // index of the corresponding input node
	seen     bool
	children []*sccNodeT
	parents  []*sccNodeT
}

func visitPostorder(node *sccNodeT, up bool, visit func(*sccNodeT)) {
	var recur func(*sccNodeT)
	recur = func(node *sccNodeT) {
		if node.seen {
			return
		}
		node.seen = true
		next := node.children
		if up {
			next = node.parents
		}
		for _, n := range next {
			recur(n)
		}
		visit(node)
	}
	recur(node)
}

func sortInts(ints []int) {
	for i := 1; i < len(ints); i++ {
		for j := i; 0 < j && ints[j] < ints[j-1]; j-- {
			ints[j], ints[j-1] = ints[j-1], ints[j]
		}
	}
}

// Returns true if 'to' can be reached from 'from' by following one or
// more edges.

func Reachable[K comparable](from K, to K, edges func(K) []K) bool {
	seen := NewSet[K]()
	todo := StackT[K]{}
	todo.Push(edges(from)...)
	for !todo.Empty() {
		next := todo.Pop()
		if next == to {
			return true
		}
		if seen.Contains(next) {
			continue
		}
		seen.Add(next)
		todo.Push(edges(next)...)
	}
	return false
}
