// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Putting loops into the canonical form that loop transformations
// expect:
//  - a dedicated preheader: the header's only outside predecessor,
//    containing nothing but a jump to the header
//  - dedicated exits: every exit block has a single predecessor,
//    which is in the loop
//  - loop-closed SSA: values defined in the loop are used outside it
//    only by PHIs in the exit blocks

package ir

import (
	"slices"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
)

// Canonicalizes every loop in 'fn'.  Loops that cannot be put in
// canonical form are left alone and returned as errors, one per loop;
// the loops are found again after each change.

func CanonicalizeLoops(fn *FuncT) []error {
	fn.ComputeCFG()
	errs := []error{}
	headers := []*BlockT{}
	for _, loop := range FindLoops(fn) {
		headers = append(headers, loop.Header)
	}
	for _, header := range headers {
		loop := findLoop(fn, header)
		if loop == nil {
			continue
		}
		if err := CanonicalizeLoop(fn, loop); err != nil {
			errs = append(errs, errors.Wrap(err, "loop %v", header))
		}
	}
	return errs
}

func findLoop(fn *FuncT, header *BlockT) *LoopT {
	for _, loop := range FindLoops(fn) {
		if loop.Header == header {
			return loop
		}
	}
	return nil
}

func CanonicalizeLoop(fn *FuncT, loop *LoopT) error {
	if ensurePreheader(fn, loop) {
		loop = findLoop(fn, loop.Header)
	}
	if ensureDedicatedExits(fn, loop) {
		loop = findLoop(fn, loop.Header)
	}
	return formLCSSA(fn, loop)
}

func ensurePreheader(fn *FuncT, loop *LoopT) bool {
	preheader := loop.Preheader()
	if preheader != nil && len(preheader.Instrs) == 1 {
		return false
	}
	header := loop.Header
	outside := []*BlockT{}
	for _, pred := range header.Preds {
		if !loop.Contains(pred) {
			outside = append(outside, pred)
		}
	}
	if len(outside) == 0 {
		return false // the header is the entry block
	}
	tlog.V("canon").Printw("insert preheader", "func", fn.Name, "header", header)
	block := InsertBlockBefore(fn, header, "preheader")
	for _, pred := range outside {
		pred.Terminator().ReplaceTarget(header, block)
	}
	for _, phi := range header.Phis() {
		var merged ValueT
		if len(outside) == 1 {
			merged, _ = phi.IncomingFor(outside[0])
		} else {
			newPhi := fn.NewPhi(phi.Typ)
			newPhi.Name = phi.Name
			for _, pred := range outside {
				value, _ := phi.IncomingFor(pred)
				newPhi.AddIncoming(value, pred)
			}
			block.InsertPhi(newPhi)
			merged = newPhi
		}
		operands := []ValueT{merged}
		edges := []*BlockT{block}
		for i, edge := range phi.Edges {
			if loop.Contains(edge) {
				operands = append(operands, phi.Operands[i])
				edges = append(edges, edge)
			}
		}
		phi.Operands = operands
		phi.Edges = edges
	}
	block.Append(fn.NewJump(header))
	fn.ComputeCFG()
	return true
}

// Gives each exiting edge its own exit block.

func ensureDedicatedExits(fn *FuncT, loop *LoopT) bool {
	changed := false
	for _, exit := range loop.Exits() {
		if len(exit.Preds) == 1 {
			continue
		}
		for _, pred := range slices.Clone(exit.Preds) {
			if !loop.Contains(pred) {
				continue
			}
			block := InsertBlockBefore(fn, exit, "exit")
			pred.Terminator().ReplaceTarget(exit, block)
			for _, phi := range exit.Phis() {
				phi.ReplaceEdge(pred, block)
			}
			block.Append(fn.NewJump(exit))
			changed = true
		}
	}
	if changed {
		fn.ComputeCFG()
	}
	return changed
}

// Adds a new, empty block just before 'before' in the block list.

func InsertBlockBefore(fn *FuncT, before *BlockT, name string) *BlockT {
	block := fn.NewBlock(name)
	fn.Blocks = fn.Blocks[:len(fn.Blocks)-1]
	fn.Blocks = slices.Insert(fn.Blocks, slices.Index(fn.Blocks, before), block)
	return block
}

// Replace uses of loop values outside the loop with PHIs in the exit
// blocks.  A use is closed through the exit block that dominates it,
// which must in turn be dominated by the value.  A use in a block
// where several exits join gets a PHI there that merges the closing
// PHIs of the exits leading to it.

func formLCSSA(fn *FuncT, loop *LoopT) error {
	dom := Dominators(fn)
	exits := loop.Exits()
	closing := map[*InstrT]map[*BlockT]*InstrT{}
	joins := map[*InstrT]map[*BlockT]*InstrT{}
	type useT struct {
		user  *InstrT
		index int
		block *BlockT
	}
	exitFor := func(value *InstrT, block *BlockT) *BlockT {
		for _, candidate := range exits {
			if dom.Dominates(candidate, block) && dom.Dominates(value.Block, candidate.Preds[0]) {
				return candidate
			}
		}
		return nil
	}
	closeAt := func(value *InstrT, exit *BlockT) *InstrT {
		if closing[value] == nil {
			closing[value] = map[*BlockT]*InstrT{}
		}
		phi := closing[value][exit]
		if phi == nil {
			phi = fn.NewPhi(value.Typ)
			phi.Name = value.Name
			phi.AddIncoming(value, exit.Preds[0])
			exit.InsertPhi(phi)
			closing[value][exit] = phi
		}
		return phi
	}
	joinAt := func(value *InstrT, block *BlockT) *InstrT {
		if joins[value] == nil {
			joins[value] = map[*BlockT]*InstrT{}
		}
		if phi := joins[value][block]; phi != nil {
			return phi
		}
		incoming := make([]*BlockT, len(block.Preds))
		for i, pred := range block.Preds {
			if incoming[i] = exitFor(value, pred); incoming[i] == nil {
				return nil
			}
		}
		phi := fn.NewPhi(value.Typ)
		phi.Name = value.Name
		for i, pred := range block.Preds {
			phi.AddIncoming(closeAt(value, incoming[i]), pred)
		}
		block.InsertPhi(phi)
		joins[value][block] = phi
		return phi
	}
	for _, value := range loop.Instrs() {
		if !value.HasValue() {
			continue
		}
		uses := []useT{}
		for _, user := range fn.Users(value) {
			for i, operand := range user.Operands {
				if operand != value {
					continue
				}
				useBlock := user.Block
				if user.IsPhi() {
					useBlock = user.Edges[i]
				}
				if loop.Contains(useBlock) {
					continue
				}
				if user.IsPhi() && slices.Contains(exits, user.Block) && loop.Contains(user.Edges[i]) {
					continue // already closed
				}
				uses = append(uses, useT{user, i, useBlock})
			}
		}
		for _, use := range uses {
			if exit := exitFor(value, use.block); exit != nil {
				use.user.Operands[use.index] = closeAt(value, exit)
				continue
			}
			if use.user.IsPhi() {
				return errors.New("%v is used outside the loop in %v through more than one exit", value, use.block)
			}
			phi := joinAt(value, use.block)
			if phi == nil {
				return errors.New("%v is used outside the loop in %v through more than one exit", value, use.block)
			}
			use.user.Operands[use.index] = phi
		}
	}
	return nil
}
