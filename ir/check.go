// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Consistency checks for functions.

package ir

import (
	"slices"

	"github.com/nikandfor/errors"
)

// Checks that:
//  - every block ends with its only terminator and starts with its PHIs
//  - Preds and Succs agree with the terminators
//  - each PHI has exactly one incoming value per predecessor
//  - every instruction operand is placed in this function and
//    dominates its use

func CheckFunc(fn *FuncT) error {
	if len(fn.Blocks) == 0 {
		return errors.New("%s: no blocks", fn.Name)
	}
	placed := map[*InstrT]int{}
	for _, block := range fn.Blocks {
		if block.Func != fn {
			return errors.New("%s: block %v belongs to another function", fn.Name, block)
		}
		for i, instr := range block.Instrs {
			if instr.Block != block {
				return errors.New("%s: %v has the wrong block", fn.Name, instr)
			}
			placed[instr] = i
		}
	}
	for _, block := range fn.Blocks {
		if err := checkBlock(block); err != nil {
			return errors.Wrap(err, "%s: block %v", fn.Name, block)
		}
	}
	dom := Dominators(fn)
	for _, block := range fn.Blocks {
		for i, instr := range block.Instrs {
			for j, rawOperand := range instr.Operands {
				operand, ok := rawOperand.(*InstrT)
				if !ok {
					if param, ok := rawOperand.(*ParamT); ok && param.Func != fn {
						return errors.New("%s: %v uses a parameter of %s", fn.Name, instr, param.Func.Name)
					}
					continue
				}
				if _, found := placed[operand]; !found {
					return errors.New("%s: %v uses unplaced %v", fn.Name, InstrString(instr), operand)
				}
				useBlock := block
				if instr.IsPhi() {
					useBlock = instr.Edges[j]
				} else if operand.Block == block && i <= placed[operand] {
					return errors.New("%s: %v used before definition in %v", fn.Name, operand, block)
				}
				if !dom.Dominates(operand.Block, useBlock) {
					return errors.New("%s: %v does not dominate its use in %v", fn.Name, operand, InstrString(instr))
				}
			}
		}
	}
	return nil
}

func checkBlock(block *BlockT) error {
	term := block.Terminator()
	if term == nil {
		return errors.New("no terminator")
	}
	phiCount := len(block.Phis())
	for i, instr := range block.Instrs {
		if instr.IsTerminator() && instr != term {
			return errors.New("terminator %v before the end", instr)
		}
		if instr.IsPhi() && phiCount <= i {
			return errors.New("%v follows a non-PHI", instr)
		}
	}
	succs := []*BlockT{}
	for _, target := range term.Targets {
		if !slices.Contains(succs, target) {
			succs = append(succs, target)
		}
	}
	if !sameBlocks(succs, block.Succs) {
		return errors.New("successors %s do not match terminator targets %s", blockNames(block.Succs), blockNames(succs))
	}
	for _, succ := range block.Succs {
		if !slices.Contains(succ.Preds, block) {
			return errors.New("%v is missing from the predecessors of %v", block, succ)
		}
	}
	for _, phi := range block.Phis() {
		if len(phi.Edges) != len(phi.Operands) {
			return errors.New("%v has %d edges and %d values", phi, len(phi.Edges), len(phi.Operands))
		}
		if len(phi.Edges) != len(block.Preds) || !sameBlocks(phi.Edges, block.Preds) {
			return errors.New("%v has incoming blocks %s, predecessors are %s",
				phi, blockNames(phi.Edges), blockNames(block.Preds))
		}
	}
	return nil
}

func sameBlocks(x []*BlockT, y []*BlockT) bool {
	if len(x) != len(y) {
		return false
	}
	for _, block := range x {
		if !slices.Contains(y, block) {
			return false
		}
	}
	for _, block := range y {
		if !slices.Contains(x, block) {
			return false
		}
	}
	return true
}
