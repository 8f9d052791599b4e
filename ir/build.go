// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package ir

import (
	"cmp"
	"go/token"
	"go/types"
	"slices"
)

// Constructors for unplaced instructions.  They get a block when
// appended to one or when a BlockBuilderT is finalized.

func (fn *FuncT) newInstr(op OpT, typ types.Type, operands ...ValueT) *InstrT {
	return &InstrT{Op: op, Typ: typ, Operands: operands, Id: fn.NextId()}
}

func (fn *FuncT) NewPhi(typ types.Type) *InstrT {
	return fn.newInstr(OpPhi, typ)
}

func (fn *FuncT) NewBinop(op token.Token, x ValueT, y ValueT) *InstrT {
	instr := fn.newInstr(OpBinop, x.Type(), x, y)
	instr.Token = op
	return instr
}

func (fn *FuncT) NewCompare(op token.Token, x ValueT, y ValueT) *InstrT {
	instr := fn.newInstr(OpCompare, types.Typ[types.Bool], x, y)
	instr.Token = op
	return instr
}

func (fn *FuncT) NewUnop(op token.Token, x ValueT) *InstrT {
	instr := fn.newInstr(OpUnop, x.Type(), x)
	instr.Token = op
	return instr
}

func (fn *FuncT) NewConvert(x ValueT, typ types.Type) *InstrT {
	return fn.newInstr(OpConvert, typ, x)
}

func (fn *FuncT) NewLoad(typ types.Type, ptr ValueT) *InstrT {
	return fn.newInstr(OpLoad, typ, ptr)
}

func (fn *FuncT) NewStore(ptr ValueT, value ValueT) *InstrT {
	return fn.newInstr(OpStore, nil, ptr, value)
}

func (fn *FuncT) NewIndexAddr(slice ValueT, index ValueT) *InstrT {
	var elem types.Type = types.Typ[types.Invalid]
	if s, ok := slice.Type().Underlying().(*types.Slice); ok {
		elem = s.Elem()
	}
	return fn.newInstr(OpIndexAddr, types.NewPointer(elem), slice, index)
}

func (fn *FuncT) NewElementPtr(ptr ValueT, index ValueT) *InstrT {
	return fn.newInstr(OpElementPtr, ptr.Type(), ptr, index)
}

func (fn *FuncT) NewAlloca(elem types.Type, count int) *InstrT {
	instr := fn.newInstr(OpAlloca, types.NewPointer(elem))
	instr.Count = count
	return instr
}

func (fn *FuncT) NewLen(slice ValueT) *InstrT {
	return fn.newInstr(OpLen, types.Typ[types.Int], slice)
}

// 'result' is nil for calls that return nothing.

func (fn *FuncT) NewCall(callee string, result types.Type, args ...ValueT) *InstrT {
	instr := fn.newInstr(OpCall, result, args...)
	instr.Callee = callee
	return instr
}

func (fn *FuncT) NewJump(target *BlockT) *InstrT {
	instr := fn.newInstr(OpJump, nil)
	instr.Targets = []*BlockT{target}
	return instr
}

func (fn *FuncT) NewIf(cond ValueT, then *BlockT, els *BlockT) *InstrT {
	instr := fn.newInstr(OpIf, nil, cond)
	instr.Targets = []*BlockT{then, els}
	return instr
}

func (fn *FuncT) NewSwitch(x ValueT, dflt *BlockT, cases []int, targets []*BlockT) *InstrT {
	instr := fn.newInstr(OpSwitch, nil, x)
	instr.Targets = append([]*BlockT{dflt}, targets...)
	instr.Cases = slices.Clone(cases)
	return instr
}

func (fn *FuncT) NewReturn(values ...ValueT) *InstrT {
	return fn.newInstr(OpReturn, nil, values...)
}

// A shallow copy with a fresh ID.  Operand, edge and target slices
// are copied so that they can be remapped independently.

func (fn *FuncT) CloneInstr(instr *InstrT) *InstrT {
	clone := *instr
	clone.Id = fn.NextId()
	clone.Block = nil
	clone.Operands = slices.Clone(instr.Operands)
	clone.Edges = slices.Clone(instr.Edges)
	clone.Targets = slices.Clone(instr.Targets)
	clone.Cases = slices.Clone(instr.Cases)
	return &clone
}

//----------------------------------------------------------------
// Building the contents of a block from an unordered collection of
// instructions.  Each instruction is added with an ordering key and
// the block's instruction list is produced once, by Finalize.  Items
// with equal keys keep the order in which they were added.

type OrderKeyT struct {
	Position int // usually the position of an original instruction
	Phase    int // orders items that share a position
}

// Sorts after every position taken from an existing block.
const EndPosition = 1 << 30

type BlockBuilderT struct {
	Block     *BlockT
	items     []builderItemT
	finalized bool
}

type builderItemT struct {
	key      OrderKeyT
	sequence int
	instr    *InstrT
}

func NewBlockBuilder(block *BlockT) *BlockBuilderT {
	return &BlockBuilderT{Block: block}
}

func (builder *BlockBuilderT) Add(key OrderKeyT, instr *InstrT) *InstrT {
	if builder.finalized {
		panic("adding to a finalized block builder")
	}
	builder.items = append(builder.items, builderItemT{key, len(builder.items), instr})
	return instr
}

// Adds 'instr' after everything added so far with the default key.

func (builder *BlockBuilderT) Append(instr *InstrT) *InstrT {
	return builder.Add(OrderKeyT{EndPosition, 0}, instr)
}

func (builder *BlockBuilderT) Len() int {
	return len(builder.items)
}

func (builder *BlockBuilderT) Finalize() *BlockT {
	if builder.finalized {
		panic("block builder finalized twice")
	}
	builder.finalized = true
	slices.SortFunc(builder.items, func(x, y builderItemT) int {
		return cmp.Or(
			cmp.Compare(x.key.Position, y.key.Position),
			cmp.Compare(x.key.Phase, y.key.Phase),
			cmp.Compare(x.sequence, y.sequence))
	})
	block := builder.Block
	block.Instrs = block.Instrs[:0]
	for _, item := range builder.items {
		block.Append(item.instr)
	}
	return block
}
