// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// A small SSA intermediate representation.  Functions are lists of
// basic blocks, blocks are lists of instructions ending in a single
// terminator, and PHI nodes come first in their blocks.
//
// types.Type is an easy-to-implement interface, so it's not Go
// specific.

package ir

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"slices"
)

// Anything that can be an instruction operand.

type ValueT interface {
	Type() types.Type
	String() string
}

//----------------------------------------------------------------
// Constants

type ConstT struct {
	Value constant.Value
	Typ   types.Type
}

func (c *ConstT) Type() types.Type { return c.Typ }
func (c *ConstT) String() string   { return c.Value.ExactString() }

func NewConst(value constant.Value, typ types.Type) *ConstT {
	return &ConstT{Value: value, Typ: typ}
}

func NewInt(typ types.Type, n int) *ConstT {
	return &ConstT{Value: constant.MakeInt64(int64(n)), Typ: typ}
}

func NewBool(b bool) *ConstT {
	return &ConstT{Value: constant.MakeBool(b), Typ: types.Typ[types.Bool]}
}

//----------------------------------------------------------------
// Function parameters

type ParamT struct {
	Name  string
	Typ   types.Type
	Index int
	Func  *FuncT
}

func (p *ParamT) Type() types.Type { return p.Typ }
func (p *ParamT) String() string   { return "%" + p.Name }

//----------------------------------------------------------------
// Module-level variables.  The value of a global is a pointer to
// its storage.

type GlobalT struct {
	Name string
	Elem types.Type
	Init constant.Value
}

func (g *GlobalT) Type() types.Type { return types.NewPointer(g.Elem) }
func (g *GlobalT) String() string   { return "@" + g.Name }

//----------------------------------------------------------------
// Instructions

type OpT int

const (
	OpPhi        OpT = iota
	OpBinop          // Token is the operator
	OpCompare        // Token is the comparison
	OpUnop           // token.SUB, token.NOT or token.XOR
	OpConvert        // integer conversion to Typ
	OpLoad           // load Typ from Operands[0]
	OpStore          // store Operands[1] into Operands[0]
	OpIndexAddr      // address of slice element Operands[0][Operands[1]]
	OpElementPtr     // pointer arithmetic, Operands[0] + Operands[1] cells
	OpAlloca         // Count fresh cells of type Typ.Elem()
	OpLen            // length of a slice
	OpCall           // call Callee with Operands
	OpJump           // Targets[0]
	OpIf             // Operands[0] ? Targets[0] : Targets[1]
	OpSwitch         // Targets[i+1] if Operands[0] == Cases[i], else Targets[0]
	OpReturn         // returns Operands
)

var opNames = []string{
	"phi", "binop", "compare", "unop", "convert", "load", "store",
	"indexAddr", "elementPtr", "alloca", "len", "call",
	"jump", "if", "switch", "return",
}

func (op OpT) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return fmt.Sprintf("op%d", int(op))
	}
	return opNames[op]
}

type InstrT struct {
	Op       OpT
	Token    token.Token // operator for binops, compares and unops
	Callee   string      // OpCall
	Operands []ValueT
	Edges    []*BlockT // PHI incoming blocks, parallel to Operands
	Targets  []*BlockT // terminator successors
	Cases    []int     // OpSwitch values, parallel to Targets[1:]
	Count    int       // OpAlloca cell count
	Typ      types.Type
	Name     string
	Id       int
	Block    *BlockT
}

func (instr *InstrT) Type() types.Type { return instr.Typ }

func (instr *InstrT) String() string {
	name := instr.Name
	if name == "" {
		name = "t"
	}
	return fmt.Sprintf("%%%s_%d", name, instr.Id)
}

func (instr *InstrT) IsTerminator() bool {
	switch instr.Op {
	case OpJump, OpIf, OpSwitch, OpReturn:
		return true
	}
	return false
}

// Conditional terminators are the ones whose outcome depends on an
// operand.

func (instr *InstrT) IsConditional() bool {
	return instr.Op == OpIf || instr.Op == OpSwitch
}

func (instr *InstrT) IsPhi() bool { return instr.Op == OpPhi }

func (instr *InstrT) IsMemory() bool {
	return instr.Op == OpLoad || instr.Op == OpStore || instr.Op == OpCall
}

// True for instructions that may modify memory.

func (instr *InstrT) WritesMemory() bool {
	return instr.Op == OpStore || instr.Op == OpCall
}

func (instr *InstrT) IsAddress() bool {
	return instr.Op == OpIndexAddr || instr.Op == OpElementPtr
}

func (instr *InstrT) HasValue() bool {
	return instr.Typ != nil
}

// The value a PHI receives when entered from 'pred'.

func (instr *InstrT) IncomingFor(pred *BlockT) (ValueT, bool) {
	for i, edge := range instr.Edges {
		if edge == pred {
			return instr.Operands[i], true
		}
	}
	return nil, false
}

func (instr *InstrT) AddIncoming(value ValueT, pred *BlockT) {
	instr.Operands = append(instr.Operands, value)
	instr.Edges = append(instr.Edges, pred)
}

func (instr *InstrT) RemoveIncoming(pred *BlockT) {
	if i := slices.Index(instr.Edges, pred); 0 <= i {
		instr.Operands = slices.Delete(instr.Operands, i, i+1)
		instr.Edges = slices.Delete(instr.Edges, i, i+1)
	}
}

// Replaces every occurrence of 'old' as an operand.

func (instr *InstrT) ReplaceOperand(old ValueT, new ValueT) {
	for i, operand := range instr.Operands {
		if operand == old {
			instr.Operands[i] = new
		}
	}
}

func (instr *InstrT) ReplaceTarget(old *BlockT, new *BlockT) {
	for i, target := range instr.Targets {
		if target == old {
			instr.Targets[i] = new
		}
	}
}

func (instr *InstrT) ReplaceEdge(old *BlockT, new *BlockT) {
	for i, edge := range instr.Edges {
		if edge == old {
			instr.Edges[i] = new
		}
	}
}

// Position of the instruction within its block.

func (instr *InstrT) Position() int {
	return slices.Index(instr.Block.Instrs, instr)
}

// A rough cost used for balancing pipeline stages.

func (instr *InstrT) Cost() int {
	switch instr.Op {
	case OpLoad, OpStore:
		return 2
	case OpCall:
		return 5
	case OpBinop:
		if instr.Token == token.QUO || instr.Token == token.REM {
			return 3
		}
	}
	return 1
}

//----------------------------------------------------------------
// Basic blocks

type BlockT struct {
	Name   string
	Id     int
	Instrs []*InstrT
	Preds  []*BlockT
	Succs  []*BlockT
	Func   *FuncT
}

func (block *BlockT) String() string {
	return fmt.Sprintf("%s_%d", block.Name, block.Id)
}

func (block *BlockT) Terminator() *InstrT {
	if len(block.Instrs) == 0 {
		return nil
	}
	last := block.Instrs[len(block.Instrs)-1]
	if !last.IsTerminator() {
		return nil
	}
	return last
}

func (block *BlockT) Phis() []*InstrT {
	i := 0
	for i < len(block.Instrs) && block.Instrs[i].IsPhi() {
		i++
	}
	return block.Instrs[:i]
}

func (block *BlockT) Append(instrs ...*InstrT) {
	for _, instr := range instrs {
		instr.Block = block
		block.Instrs = append(block.Instrs, instr)
	}
}

// Adds 'instr' just after the block's PHIs.

func (block *BlockT) InsertPhi(instr *InstrT) {
	instr.Block = block
	block.Instrs = slices.Insert(block.Instrs, len(block.Phis()), instr)
}

//----------------------------------------------------------------
// Functions

type FuncT struct {
	Name    string
	Params  []*ParamT
	Results []types.Type
	Blocks  []*BlockT
	Module  *ModuleT
	nextId  int
}

// Functions are values so that their addresses can be stored.

func (fn *FuncT) Type() types.Type { return types.Typ[types.UnsafePointer] }
func (fn *FuncT) String() string   { return "@" + fn.Name }

func NewFunc(name string) *FuncT {
	return &FuncT{Name: name}
}

func (fn *FuncT) NextId() int {
	fn.nextId += 1
	return fn.nextId
}

func (fn *FuncT) AddParam(name string, typ types.Type) *ParamT {
	param := &ParamT{Name: name, Typ: typ, Index: len(fn.Params), Func: fn}
	fn.Params = append(fn.Params, param)
	return param
}

func (fn *FuncT) NewBlock(name string) *BlockT {
	block := &BlockT{Name: name, Id: fn.NextId(), Func: fn}
	fn.Blocks = append(fn.Blocks, block)
	return block
}

func (fn *FuncT) Entry() *BlockT {
	return fn.Blocks[0]
}

// Every instruction in block order.

func (fn *FuncT) Instrs() []*InstrT {
	result := []*InstrT{}
	for _, block := range fn.Blocks {
		result = append(result, block.Instrs...)
	}
	return result
}

// Recomputes the Preds and Succs fields from the terminators.
// Successors are in terminator order and predecessors are in block
// order, both without duplicates.

func (fn *FuncT) ComputeCFG() {
	for _, block := range fn.Blocks {
		block.Preds = nil
		block.Succs = nil
	}
	for _, block := range fn.Blocks {
		term := block.Terminator()
		if term == nil {
			continue
		}
		for _, target := range term.Targets {
			if !slices.Contains(block.Succs, target) {
				block.Succs = append(block.Succs, target)
				target.Preds = append(target.Preds, block)
			}
		}
	}
}

// Instructions that use 'value' as an operand.

func (fn *FuncT) Users(value ValueT) []*InstrT {
	result := []*InstrT{}
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if slices.Contains(instr.Operands, value) {
				result = append(result, instr)
			}
		}
	}
	return result
}

func (fn *FuncT) RemoveBlocks(blocks ...*BlockT) {
	fn.Blocks = slices.DeleteFunc(fn.Blocks, func(b *BlockT) bool {
		return slices.Contains(blocks, b)
	})
}

//----------------------------------------------------------------
// Modules

type ModuleT struct {
	Funcs   []*FuncT
	Globals []*GlobalT
}

func NewModule() *ModuleT {
	return &ModuleT{}
}

func (module *ModuleT) AddFunc(fn *FuncT) {
	fn.Module = module
	module.Funcs = append(module.Funcs, fn)
}

func (module *ModuleT) RemoveFunc(fn *FuncT) {
	module.Funcs = slices.DeleteFunc(module.Funcs, func(f *FuncT) bool { return f == fn })
}

func (module *ModuleT) Func(name string) *FuncT {
	for _, fn := range module.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

func (module *ModuleT) Global(name string) *GlobalT {
	for _, global := range module.Globals {
		if global.Name == name {
			return global
		}
	}
	return nil
}

// Returns the named global, creating it if necessary.

func (module *ModuleT) EnsureGlobal(name string, elem types.Type, init constant.Value) *GlobalT {
	if global := module.Global(name); global != nil {
		return global
	}
	global := &GlobalT{Name: name, Elem: elem, Init: init}
	module.Globals = append(module.Globals, global)
	return global
}
