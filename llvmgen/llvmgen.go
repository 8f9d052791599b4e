// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Lowering IR modules to LLVM assembly.
//
// Scalars map to integers of their width, slices to {elem*, i64, i64}
// and unsafe.Pointer to i8*.  Pointers of differing types are bitcast
// where they meet.  Calls to functions that are not in the module,
// such as the queue primitives and the stage dispatcher, become
// external declarations typed by their first call.

package llvmgen

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"

	llvm "github.com/llir/llvm/ir"
	llconst "github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	lltypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/s48/dswp/ir"
)

type emitterT struct {
	module  *llvm.Module
	funcs   map[string]*llvm.Func
	globals map[*ir.GlobalT]*llvm.Global
}

// Returns the LLVM assembly for 'module'.

func Sprint(module *ir.ModuleT) (string, error) {
	out, err := Emit(module)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

func Emit(module *ir.ModuleT) (*llvm.Module, error) {
	emitter := &emitterT{
		module:  llvm.NewModule(),
		funcs:   map[string]*llvm.Func{},
		globals: map[*ir.GlobalT]*llvm.Global{},
	}
	for _, global := range module.Globals {
		if err := emitter.emitGlobal(global); err != nil {
			return nil, err
		}
	}
	for _, fn := range module.Funcs {
		if err := emitter.declare(fn); err != nil {
			return nil, errors.Wrap(err, "%s", fn.Name)
		}
	}
	for _, fn := range module.Funcs {
		if err := emitter.emitFunc(fn); err != nil {
			return nil, errors.Wrap(err, "%s", fn.Name)
		}
	}
	tlog.V("llvm").Printw("emitted module", "funcs", len(emitter.module.Funcs), "globals", len(emitter.module.Globals))
	return emitter.module, nil
}

//----------------------------------------------------------------
// Types

func LLVMType(typ types.Type) (lltypes.Type, error) {
	switch typ := typ.Underlying().(type) {
	case *types.Basic:
		if typ.Kind() == types.UnsafePointer {
			return lltypes.I8Ptr, nil
		}
		switch ir.BitWidth(typ) {
		case 1:
			return lltypes.I1, nil
		case 8:
			return lltypes.I8, nil
		case 16:
			return lltypes.I16, nil
		case 32:
			return lltypes.I32, nil
		case 64:
			return lltypes.I64, nil
		}
	case *types.Pointer:
		elem, err := LLVMType(typ.Elem())
		if err != nil {
			return nil, err
		}
		return lltypes.NewPointer(elem), nil
	case *types.Slice:
		elem, err := LLVMType(typ.Elem())
		if err != nil {
			return nil, err
		}
		return lltypes.NewStruct(lltypes.NewPointer(elem), lltypes.I64, lltypes.I64), nil
	}
	return nil, errors.New("no LLVM type for %v", typ)
}

func resultType(results []types.Type) (lltypes.Type, error) {
	switch len(results) {
	case 0:
		return lltypes.Void, nil
	case 1:
		return LLVMType(results[0])
	}
	fields := make([]lltypes.Type, len(results))
	for i, result := range results {
		field, err := LLVMType(result)
		if err != nil {
			return nil, err
		}
		fields[i] = field
	}
	return lltypes.NewStruct(fields...), nil
}

func llvmConst(value constant.Value, typ types.Type) (llconst.Constant, error) {
	lltype, err := LLVMType(typ)
	if err != nil {
		return nil, err
	}
	switch value.Kind() {
	case constant.Bool:
		return llconst.NewBool(constant.BoolVal(value)), nil
	case constant.Int:
		inttype, ok := lltype.(*lltypes.IntType)
		if !ok {
			return nil, errors.New("integer constant %v of type %v", value, typ)
		}
		n, exact := constant.Int64Val(value)
		if !exact {
			u, _ := constant.Uint64Val(value)
			n = int64(u)
		}
		return llconst.NewInt(inttype, n), nil
	}
	return nil, errors.New("unsupported constant %v", value)
}

//----------------------------------------------------------------
// Module-level definitions

func (emitter *emitterT) emitGlobal(global *ir.GlobalT) error {
	elem, err := LLVMType(global.Elem)
	if err != nil {
		return errors.Wrap(err, "global %s", global.Name)
	}
	var init llconst.Constant = llconst.NewZeroInitializer(elem)
	if global.Init != nil {
		init, err = llvmConst(global.Init, global.Elem)
		if err != nil {
			return errors.Wrap(err, "global %s", global.Name)
		}
	}
	emitter.globals[global] = emitter.module.NewGlobalDef(global.Name, init)
	return nil
}

func (emitter *emitterT) declare(fn *ir.FuncT) error {
	result, err := resultType(fn.Results)
	if err != nil {
		return err
	}
	params := make([]*llvm.Param, len(fn.Params))
	for i, param := range fn.Params {
		typ, err := LLVMType(param.Typ)
		if err != nil {
			return errors.Wrap(err, "parameter %s", param.Name)
		}
		params[i] = llvm.NewParam(param.Name, typ)
	}
	emitter.funcs[fn.Name] = emitter.module.NewFunc(fn.Name, result, params...)
	return nil
}

// Returns the named function, declaring it as external using the
// argument and result types of 'call' if it isn't already known.

func (emitter *emitterT) callee(call *ir.InstrT) (*llvm.Func, error) {
	if fn := emitter.funcs[call.Callee]; fn != nil {
		return fn, nil
	}
	result := lltypes.Type(lltypes.Void)
	if call.Typ != nil {
		var err error
		if result, err = LLVMType(call.Typ); err != nil {
			return nil, err
		}
	}
	params := make([]*llvm.Param, len(call.Operands))
	for i, arg := range call.Operands {
		typ, err := LLVMType(arg.Type())
		if err != nil {
			return nil, errors.Wrap(err, "argument %d", i)
		}
		// Pointers passed to the runtime are opaque.
		if _, ok := typ.(*lltypes.PointerType); ok {
			typ = lltypes.I8Ptr
		}
		params[i] = llvm.NewParam("", typ)
	}
	fn := emitter.module.NewFunc(call.Callee, result, params...)
	emitter.funcs[call.Callee] = fn
	return fn, nil
}

//----------------------------------------------------------------
// Functions

type funcEmitterT struct {
	*emitterT
	fn     *ir.FuncT
	blocks map[*ir.BlockT]*llvm.Block
	values map[ir.ValueT]value.Value
	phis   map[*ir.InstrT]*llvm.InstPhi
	block  *llvm.Block // where code is currently going
}

func (emitter *emitterT) emitFunc(fn *ir.FuncT) error {
	out := emitter.funcs[fn.Name]
	fe := &funcEmitterT{
		emitterT: emitter,
		fn:       fn,
		blocks:   map[*ir.BlockT]*llvm.Block{},
		values:   map[ir.ValueT]value.Value{},
		phis:     map[*ir.InstrT]*llvm.InstPhi{},
	}
	for i, param := range fn.Params {
		fe.values[param] = out.Params[i]
	}
	// Reverse postorder puts every definition ahead of its non-PHI
	// uses.  Unreachable blocks are dropped.
	order := reversePostorder(fn)
	for _, block := range order {
		fe.blocks[block] = out.NewBlock(fmt.Sprintf("%s.%d", block.Name, block.Id))
	}
	for _, block := range order {
		fe.block = fe.blocks[block]
		for _, instr := range block.Instrs {
			if err := fe.emit(instr); err != nil {
				return errors.Wrap(err, "%v", instr)
			}
		}
	}
	for instr, phi := range fe.phis {
		for i, edge := range instr.Edges {
			pred := fe.blocks[edge]
			if pred == nil {
				continue
			}
			x, err := fe.value(instr.Operands[i])
			if err != nil {
				return errors.Wrap(err, "%v", instr)
			}
			phi.Incs = append(phi.Incs, llvm.NewIncoming(x, pred))
		}
	}
	return nil
}

func reversePostorder(fn *ir.FuncT) []*ir.BlockT {
	seen := map[*ir.BlockT]bool{}
	post := []*ir.BlockT{}
	var walk func(*ir.BlockT)
	walk = func(block *ir.BlockT) {
		seen[block] = true
		for _, succ := range block.Succs {
			if !seen[succ] {
				walk(succ)
			}
		}
		post = append(post, block)
	}
	walk(fn.Entry())
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func (fe *funcEmitterT) value(raw ir.ValueT) (value.Value, error) {
	switch raw := raw.(type) {
	case *ir.ConstT:
		return llvmConst(raw.Value, raw.Typ)
	case *ir.GlobalT:
		return fe.globals[raw], nil
	case *ir.FuncT:
		fn := fe.funcs[raw.Name]
		if fn == nil {
			return nil, errors.New("unknown function %s", raw.Name)
		}
		return fn, nil
	}
	result := fe.values[raw]
	if result == nil {
		return nil, errors.New("%v used before it is defined", raw)
	}
	return result, nil
}

// Returns 'x' as a value of type 'want', bitcasting pointers.

func (fe *funcEmitterT) coerce(x value.Value, want lltypes.Type) value.Value {
	if lltypes.Equal(x.Type(), want) {
		return x
	}
	_, fromPointer := x.Type().(*lltypes.PointerType)
	_, toPointer := want.(*lltypes.PointerType)
	if fromPointer && toPointer {
		return fe.block.NewBitCast(x, want)
	}
	return x
}

func (fe *funcEmitterT) operands(instr *ir.InstrT) ([]value.Value, error) {
	result := make([]value.Value, len(instr.Operands))
	for i, operand := range instr.Operands {
		x, err := fe.value(operand)
		if err != nil {
			return nil, err
		}
		result[i] = x
	}
	return result, nil
}

func (fe *funcEmitterT) define(instr *ir.InstrT, result value.Value) {
	if named, ok := result.(value.Named); ok && instr.Name != "" {
		named.SetName(fmt.Sprintf("%s.%d", instr.Name, instr.Id))
	}
	fe.values[instr] = result
}

func (fe *funcEmitterT) emit(instr *ir.InstrT) error {
	block := fe.block
	if instr.Op == ir.OpPhi {
		typ, err := LLVMType(instr.Typ)
		if err != nil {
			return err
		}
		// The incoming values are added once every block is done.
		phi := &llvm.InstPhi{Typ: typ}
		block.Insts = append(block.Insts, phi)
		fe.phis[instr] = phi
		fe.define(instr, phi)
		return nil
	}
	args, err := fe.operands(instr)
	if err != nil {
		return err
	}
	var typ lltypes.Type
	if instr.Typ != nil {
		if typ, err = LLVMType(instr.Typ); err != nil {
			return err
		}
	}

	switch instr.Op {
	case ir.OpBinop:
		result, err := fe.binop(instr, args[0], args[1])
		if err != nil {
			return err
		}
		fe.define(instr, result)
	case ir.OpCompare:
		pred, err := comparePred(instr.Token, ir.IsUnsigned(instr.Operands[0].Type()))
		if err != nil {
			return err
		}
		fe.define(instr, block.NewICmp(pred, args[0], args[1]))
	case ir.OpUnop:
		inttype, ok := typ.(*lltypes.IntType)
		if !ok {
			return errors.New("unop on %v", instr.Typ)
		}
		switch instr.Token {
		case token.SUB:
			fe.define(instr, block.NewSub(llconst.NewInt(inttype, 0), args[0]))
		case token.NOT, token.XOR:
			fe.define(instr, block.NewXor(args[0], llconst.NewInt(inttype, -1)))
		default:
			return errors.New("unsupported unop %v", instr.Token)
		}
	case ir.OpConvert:
		fe.define(instr, fe.convert(args[0], ir.IsUnsigned(instr.Operands[0].Type()), typ))
	case ir.OpLoad:
		fe.define(instr, block.NewLoad(typ, fe.coerce(args[0], lltypes.NewPointer(typ))))
	case ir.OpStore:
		x := args[1]
		block.NewStore(x, fe.coerce(args[0], lltypes.NewPointer(x.Type())))
	case ir.OpIndexAddr:
		elem := typ.(*lltypes.PointerType).ElemType
		base := block.NewExtractValue(args[0], 0)
		fe.define(instr, block.NewGetElementPtr(elem, base, args[1]))
	case ir.OpElementPtr:
		elem := args[0].Type().(*lltypes.PointerType).ElemType
		fe.define(instr, block.NewGetElementPtr(elem, args[0], args[1]))
	case ir.OpAlloca:
		alloca := block.NewAlloca(typ.(*lltypes.PointerType).ElemType)
		if instr.Count != 1 {
			alloca.NElems = llconst.NewInt(lltypes.I64, int64(instr.Count))
		}
		fe.define(instr, alloca)
	case ir.OpLen:
		fe.define(instr, block.NewExtractValue(args[0], 1))
	case ir.OpCall:
		callee, err := fe.callee(instr)
		if err != nil {
			return err
		}
		if len(callee.Params) != len(args) {
			return errors.New("%s takes %d arguments, not %d", instr.Callee, len(callee.Params), len(args))
		}
		for i, param := range callee.Params {
			args[i] = fe.coerce(args[i], param.Typ)
		}
		call := block.NewCall(callee, args...)
		if instr.Typ != nil {
			fe.define(instr, call)
		}
	case ir.OpJump:
		block.NewBr(fe.blocks[instr.Targets[0]])
	case ir.OpIf:
		block.NewCondBr(args[0], fe.blocks[instr.Targets[0]], fe.blocks[instr.Targets[1]])
	case ir.OpSwitch:
		inttype, ok := args[0].Type().(*lltypes.IntType)
		if !ok {
			return errors.New("switch on %v", instr.Operands[0].Type())
		}
		cases := make([]*llvm.Case, len(instr.Cases))
		for i, n := range instr.Cases {
			cases[i] = llvm.NewCase(llconst.NewInt(inttype, int64(n)), fe.blocks[instr.Targets[i+1]])
		}
		block.NewSwitch(args[0], fe.blocks[instr.Targets[0]], cases...)
	case ir.OpReturn:
		fe.emitReturn(args)
	default:
		return errors.New("unsupported instruction %v", instr.Op)
	}
	return nil
}

func (fe *funcEmitterT) emitReturn(args []value.Value) {
	switch len(args) {
	case 0:
		fe.block.NewRet(nil)
	case 1:
		fe.block.NewRet(args[0])
	default:
		fields := make([]lltypes.Type, len(args))
		for i, arg := range args {
			fields[i] = arg.Type()
		}
		var result value.Value = llconst.NewUndef(lltypes.NewStruct(fields...))
		for i, arg := range args {
			result = fe.block.NewInsertValue(result, arg, uint64(i))
		}
		fe.block.NewRet(result)
	}
}

func (fe *funcEmitterT) binop(instr *ir.InstrT, x value.Value, y value.Value) (value.Value, error) {
	block := fe.block
	unsigned := ir.IsUnsigned(instr.Typ)
	switch instr.Token {
	case token.ADD:
		return block.NewAdd(x, y), nil
	case token.SUB:
		return block.NewSub(x, y), nil
	case token.MUL:
		return block.NewMul(x, y), nil
	case token.QUO:
		if unsigned {
			return block.NewUDiv(x, y), nil
		}
		return block.NewSDiv(x, y), nil
	case token.REM:
		if unsigned {
			return block.NewURem(x, y), nil
		}
		return block.NewSRem(x, y), nil
	case token.AND:
		return block.NewAnd(x, y), nil
	case token.OR:
		return block.NewOr(x, y), nil
	case token.XOR:
		return block.NewXor(x, y), nil
	case token.AND_NOT:
		inttype, ok := x.Type().(*lltypes.IntType)
		if !ok {
			return nil, errors.New("&^ on %v", instr.Typ)
		}
		return block.NewAnd(x, block.NewXor(y, llconst.NewInt(inttype, -1))), nil
	case token.SHL:
		return block.NewShl(x, fe.convert(y, true, x.Type())), nil
	case token.SHR:
		y = fe.convert(y, true, x.Type())
		if unsigned {
			return block.NewLShr(x, y), nil
		}
		return block.NewAShr(x, y), nil
	}
	return nil, errors.New("unsupported binop %v", instr.Token)
}

func comparePred(op token.Token, unsigned bool) (enum.IPred, error) {
	switch op {
	case token.EQL:
		return enum.IPredEQ, nil
	case token.NEQ:
		return enum.IPredNE, nil
	case token.LSS:
		if unsigned {
			return enum.IPredULT, nil
		}
		return enum.IPredSLT, nil
	case token.LEQ:
		if unsigned {
			return enum.IPredULE, nil
		}
		return enum.IPredSLE, nil
	case token.GTR:
		if unsigned {
			return enum.IPredUGT, nil
		}
		return enum.IPredSGT, nil
	case token.GEQ:
		if unsigned {
			return enum.IPredUGE, nil
		}
		return enum.IPredSGE, nil
	}
	return 0, errors.New("unsupported comparison %v", op)
}

// Integer conversion by truncation or extension.  Booleans are
// always zero-extended.

func (fe *funcEmitterT) convert(x value.Value, unsigned bool, to lltypes.Type) value.Value {
	from, ok1 := x.Type().(*lltypes.IntType)
	into, ok2 := to.(*lltypes.IntType)
	if !ok1 || !ok2 {
		return fe.coerce(x, to)
	}
	switch {
	case from.BitSize == into.BitSize:
		return x
	case into.BitSize < from.BitSize:
		return fe.block.NewTrunc(x, to)
	case unsigned || from.BitSize == 1:
		return fe.block.NewZExt(x, to)
	}
	return fe.block.NewSExt(x, to)
}
