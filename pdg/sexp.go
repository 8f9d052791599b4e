// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Building dependence graphs by hand, for testing partitioning
// without going through a front end.
//
//   (graph
//     (instr i phi) (instr i1 add) (instr c compare) (instr br if)
//     (data i i1) (data i1 i) (data i c) (data c br)
//     (control br i1)
//     (iv i i1))
//
// Instruction kinds are phi, add, mul, compare, if, jump, load, store,
// call, len, indexAddr, and ptrload (a load of a pointer).  Loop
// invariants are marked with (invariant x ...).

package pdg

import (
	"go/token"
	"go/types"

	"github.com/nikandfor/errors"

	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/util"
)

func ParseGraph(text string) (*GraphT, error) {
	sexp, err := util.ParseSExp(text)
	if err != nil {
		return nil, err
	}
	if sexp.Head() != "graph" {
		return nil, errors.New("expected (graph ...), got %v", sexp)
	}
	fn := ir.NewFunc("fixture")
	block := fn.NewBlock("body")
	named := map[string]*ir.InstrT{}
	lookup := func(form *util.SExpT, i int) (*ir.InstrT, error) {
		if len(form.List) <= i || form.List[i].Kind != util.SExpSymbol {
			return nil, errors.New("bad form %v", form)
		}
		instr := named[form.List[i].Symbol]
		if instr == nil {
			return nil, errors.New("undefined instruction %s in %v", form.List[i].Symbol, form)
		}
		return instr, nil
	}
	intType := types.Typ[types.Int]
	ptrType := types.NewPointer(intType)
	var graph *GraphT
	for _, form := range sexp.List[1:] {
		if form.Head() != "instr" {
			continue
		}
		if len(form.List) != 3 {
			return nil, errors.New("bad instr form %v", form)
		}
		instr := &ir.InstrT{Id: fn.NextId(), Name: form.List[1].Symbol, Typ: intType}
		switch form.List[2].Symbol {
		case "phi":
			instr.Op = ir.OpPhi
		case "add":
			instr.Op, instr.Token = ir.OpBinop, token.ADD
		case "mul":
			instr.Op, instr.Token = ir.OpBinop, token.MUL
		case "compare":
			instr.Op, instr.Token, instr.Typ = ir.OpCompare, token.LSS, types.Typ[types.Bool]
		case "if":
			instr.Op, instr.Typ = ir.OpIf, nil
		case "jump":
			instr.Op, instr.Typ = ir.OpJump, nil
		case "load":
			instr.Op = ir.OpLoad
		case "ptrload":
			instr.Op, instr.Typ = ir.OpLoad, ptrType
		case "store":
			instr.Op, instr.Typ = ir.OpStore, nil
		case "call":
			instr.Op = ir.OpCall
		case "len":
			instr.Op = ir.OpLen
		case "indexAddr":
			instr.Op, instr.Typ = ir.OpIndexAddr, ptrType
		default:
			return nil, errors.New("unknown instruction kind in %v", form)
		}
		if named[instr.Name] != nil {
			return nil, errors.New("instruction %s defined twice", instr.Name)
		}
		named[instr.Name] = instr
		block.Append(instr)
	}
	graph = NewGraph(block.Instrs)
	for _, form := range sexp.List[1:] {
		var kind KindT
		switch form.Head() {
		case "instr":
			continue
		case "data":
			kind = DataDep
		case "memory":
			kind = MemoryDep
		case "control":
			kind = ControlDep
		case "iv", "invariant":
			set := graph.InductionVariables
			if form.Head() == "invariant" {
				set = graph.Invariants
			}
			for i := 1; i < len(form.List); i++ {
				instr, err := lookup(form, i)
				if err != nil {
					return nil, err
				}
				set.Add(instr)
			}
			continue
		default:
			return nil, errors.New("unknown form %v", form)
		}
		from, err := lookup(form, 1)
		if err != nil {
			return nil, err
		}
		to, err := lookup(form, 2)
		if err != nil {
			return nil, err
		}
		graph.AddEdge(kind, from, to)
	}
	return graph, nil
}
