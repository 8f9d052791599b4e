// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Determining a function's loop structure.  This can't handle
// irreducible control flow; a cycle entered other than through its
// header is simply not reported as a loop.

package ir

import (
	"slices"

	"github.com/s48/dswp/util"
)

type LoopT struct {
	Header   *BlockT
	Blocks   util.SetT[*BlockT] // includes the header
	Latches  []*BlockT          // sources of back edges, in block order
	Parent   *LoopT             // next outer loop, if any
	Children []*LoopT
	Depth    int // outermost loops have depth 1
}

func (loop *LoopT) Contains(block *BlockT) bool {
	return loop.Blocks.Contains(block)
}

func (loop *LoopT) ContainsInstr(instr *InstrT) bool {
	return instr.Block != nil && loop.Blocks.Contains(instr.Block)
}

// The loop's blocks in function order.

func (loop *LoopT) BlockList() []*BlockT {
	return util.Filter(loop.Contains, loop.Header.Func.Blocks)
}

func (loop *LoopT) Instrs() []*InstrT {
	result := []*InstrT{}
	for _, block := range loop.BlockList() {
		result = append(result, block.Instrs...)
	}
	return result
}

// Blocks outside the loop that have a predecessor inside it, in
// function order.

func (loop *LoopT) Exits() []*BlockT {
	return util.Filter(func(b *BlockT) bool {
		return !loop.Contains(b) && util.Any(loop.Contains, b.Preds)
	}, loop.Header.Func.Blocks)
}

// The unique block outside the loop that jumps to the header and
// nowhere else, or nil if there isn't one.

func (loop *LoopT) Preheader() *BlockT {
	outside := util.Filter(func(b *BlockT) bool { return !loop.Contains(b) }, loop.Header.Preds)
	if len(outside) != 1 || len(outside[0].Succs) != 1 {
		return nil
	}
	return outside[0]
}

// Block to innermost containing loop.

func (loop *LoopT) innermost(result map[*BlockT]*LoopT) {
	for block := range loop.Blocks {
		if current := result[block]; current == nil || current.Depth < loop.Depth {
			result[block] = loop
		}
	}
}

// Finds the loops in 'fn', outermost first.  Loops are found by
// looking for edges whose tail is dominated by their head; all blocks
// on paths backwards from the tail to the head are in the loop.  Back
// edges to the same header make a single loop.

func FindLoops(fn *FuncT) []*LoopT {
	dom := Dominators(fn)
	loops := []*LoopT{}
	byHeader := map[*BlockT]*LoopT{}
	for _, block := range fn.Blocks {
		for _, next := range block.Succs {
			if !dom.Dominates(next, block) {
				continue
			}
			loop := byHeader[next]
			if loop == nil {
				loop = &LoopT{Header: next, Blocks: util.NewSet(next)}
				byHeader[next] = loop
				loops = append(loops, loop)
			}
			if !slices.Contains(loop.Latches, block) {
				loop.Latches = append(loop.Latches, block)
			}
			findLoopBlocks(loop, block)
		}
	}

	// Sort loops from biggest to smallest, so that outer loops are
	// processed before inner loops and each loop ends up with its
	// proper depth and immediate parent.
	slices.SortStableFunc(loops, func(x, y *LoopT) int {
		return len(y.Blocks) - len(x.Blocks)
	})
	innermost := map[*BlockT]*LoopT{}
	for _, loop := range loops {
		loop.Parent = innermost[loop.Header]
		if loop.Parent == nil {
			loop.Depth = 1
		} else {
			loop.Depth = loop.Parent.Depth + 1
			loop.Parent.Children = append(loop.Parent.Children, loop)
		}
		loop.innermost(innermost)
	}
	return loops
}

// Walk up the predecessor links from 'block' until you hit the
// header, adding everything to the loop.

func findLoopBlocks(loop *LoopT, block *BlockT) {
	todo := util.StackT[*BlockT]{}
	todo.Push(block)
	for !todo.Empty() {
		next := todo.Pop()
		if loop.Blocks.Contains(next) && next != block {
			continue
		}
		loop.Blocks.Add(next)
		if next == loop.Header {
			continue
		}
		for _, prev := range next.Preds {
			if !loop.Blocks.Contains(prev) {
				todo.Push(prev)
			}
		}
	}
}

func OutermostLoops(loops []*LoopT) []*LoopT {
	return util.Filter(func(loop *LoopT) bool { return loop.Parent == nil }, loops)
}

// The child of 'loop' that contains 'block', or nil if 'block' is
// directly in 'loop'.

func (loop *LoopT) ChildContaining(block *BlockT) *LoopT {
	for _, child := range loop.Children {
		if child.Contains(block) {
			return child
		}
	}
	return nil
}
