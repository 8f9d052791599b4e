// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Converting go/ssa functions into IR.  This handles integer and
// boolean arithmetic, slices of integers, and calls to functions in
// the same package; anything else is reported as unsupported.

package front

import (
	"go/constant"
	"go/token"
	"go/types"
	"slices"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"golang.org/x/tools/go/ssa"

	"github.com/s48/dswp/ir"
)

var ErrUnsupported = errors.New("unsupported")

// Keeping track of where we are in the function.

type converterT struct {
	fn     *ir.FuncT
	ssaFn  *ssa.Function
	blocks map[*ssa.BasicBlock]*ir.BlockT
	values map[ssa.Value]ir.ValueT
	err    error
}

func (conv *converterT) fail(format string, args ...any) {
	if conv.err == nil {
		conv.err = errors.Wrap(ErrUnsupported, format, args...)
	}
}

// Converts every function in 'pkg' that can be converted, in name
// order.  Functions that use unsupported features are logged and
// skipped.

func ConvertPackage(pkg *ssa.Package, module *ir.ModuleT) {
	names := []string{}
	for name, member := range pkg.Members {
		if fn, ok := member.(*ssa.Function); ok && fn.Blocks != nil && fn.TypeParams().Len() == 0 && name != "init" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		fn, err := ConvertFunction(pkg.Func(name))
		if err != nil {
			tlog.Printw("skipping function", "func", name, "err", err)
			continue
		}
		module.AddFunc(fn)
	}
}

func ConvertFunction(ssaFn *ssa.Function) (*ir.FuncT, error) {
	fn := ir.NewFunc(ssaFn.Name())
	conv := &converterT{
		fn:     fn,
		ssaFn:  ssaFn,
		blocks: map[*ssa.BasicBlock]*ir.BlockT{},
		values: map[ssa.Value]ir.ValueT{},
	}
	if 0 < len(ssaFn.FreeVars) {
		return nil, errors.Wrap(ErrUnsupported, "%s: closures", ssaFn.Name())
	}
	results := ssaFn.Signature.Results()
	for i := 0; i < results.Len(); i++ {
		fn.Results = append(fn.Results, results.At(i).Type())
	}
	for _, param := range ssaFn.Params {
		conv.values[param] = fn.AddParam(param.Name(), param.Type())
	}
	for _, ssaBlock := range ssaFn.Blocks {
		name := ssaBlock.Comment
		if name == "" {
			name = "b"
		}
		conv.blocks[ssaBlock] = fn.NewBlock(name)
	}

	// PHIs are made first because their operands may be defined
	// later.  Everything else is converted in dominator-tree order so
	// that operands are always converted before their users.
	phis := map[*ssa.Phi]*ir.InstrT{}
	for _, ssaBlock := range ssaFn.Blocks {
		for _, raw := range ssaBlock.Instrs {
			if phi, ok := raw.(*ssa.Phi); ok {
				instr := fn.NewPhi(phi.Type())
				instr.Name = phi.Comment
				conv.blocks[ssaBlock].Append(instr)
				conv.values[phi] = instr
				phis[phi] = instr
			}
		}
	}
	for _, ssaBlock := range ssaFn.DomPreorder() {
		for _, raw := range ssaBlock.Instrs {
			conv.instr(ssaBlock, raw)
		}
	}
	for phi, instr := range phis {
		for i, edge := range phi.Edges {
			instr.AddIncoming(conv.value(edge), conv.blocks[phi.Block().Preds[i]])
		}
	}
	if conv.err != nil {
		return nil, errors.Wrap(conv.err, "%s", ssaFn.Name())
	}
	fn.ComputeCFG()
	if err := ir.CheckFunc(fn); err != nil {
		return nil, errors.Wrap(err, "converted %s", ssaFn.Name())
	}
	return fn, nil
}

func isComparison(op token.Token) bool {
	switch op {
	case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
		return true
	}
	return false
}

func (conv *converterT) instr(ssaBlock *ssa.BasicBlock, raw ssa.Instruction) {
	fn := conv.fn
	block := conv.blocks[ssaBlock]
	var instr *ir.InstrT
	switch v := raw.(type) {
	case *ssa.Phi, *ssa.DebugRef:
		return
	case *ssa.BinOp:
		x, y := conv.value(v.X), conv.value(v.Y)
		if isComparison(v.Op) {
			instr = fn.NewCompare(v.Op, x, y)
		} else {
			instr = fn.NewBinop(v.Op, x, y)
			instr.Typ = v.Type()
		}
	case *ssa.UnOp:
		if v.CommaOk {
			conv.fail("comma-ok %v", v)
			return
		}
		switch v.Op {
		case token.MUL:
			instr = fn.NewLoad(v.Type(), conv.value(v.X))
		case token.SUB, token.NOT, token.XOR:
			instr = fn.NewUnop(v.Op, conv.value(v.X))
		default:
			conv.fail("unary operator %v", v.Op)
			return
		}
	case *ssa.Convert:
		if ir.BitWidth(v.Type()) == 0 || ir.BitWidth(v.X.Type()) == 0 {
			conv.fail("conversion %v", v)
			return
		}
		instr = fn.NewConvert(conv.value(v.X), v.Type())
	case *ssa.ChangeType:
		conv.values[v] = conv.value(v.X)
		return
	case *ssa.IndexAddr:
		if _, ok := v.X.Type().Underlying().(*types.Slice); !ok {
			conv.fail("indexing %v", v.X.Type())
			return
		}
		instr = fn.NewIndexAddr(conv.value(v.X), conv.value(v.Index))
	case *ssa.Store:
		instr = fn.NewStore(conv.value(v.Addr), conv.value(v.Val))
	case *ssa.Call:
		instr = conv.call(v)
		if instr == nil {
			return
		}
	case *ssa.If:
		instr = fn.NewIf(conv.value(v.Cond), conv.blocks[ssaBlock.Succs[0]], conv.blocks[ssaBlock.Succs[1]])
	case *ssa.Jump:
		instr = fn.NewJump(conv.blocks[ssaBlock.Succs[0]])
	case *ssa.Return:
		values := make([]ir.ValueT, len(v.Results))
		for i, result := range v.Results {
			values[i] = conv.value(result)
		}
		instr = fn.NewReturn(values...)
	default:
		conv.fail("instruction %T: %v", raw, raw)
		return
	}
	if value, ok := raw.(ssa.Value); ok {
		conv.values[value] = instr
	}
	block.Append(instr)
}

func (conv *converterT) call(call *ssa.Call) *ir.InstrT {
	common := call.Common()
	args := make([]ir.ValueT, len(common.Args))
	for i, arg := range common.Args {
		args[i] = conv.value(arg)
	}
	if builtin, ok := common.Value.(*ssa.Builtin); ok {
		if builtin.Name() == "len" && len(args) == 1 {
			if _, ok := common.Args[0].Type().Underlying().(*types.Slice); ok {
				return conv.fn.NewLen(args[0])
			}
		}
		conv.fail("builtin %s", builtin.Name())
		return nil
	}
	callee := common.StaticCallee()
	if callee == nil || callee.Pkg != conv.ssaFn.Pkg || 0 < len(callee.FreeVars) || common.IsInvoke() {
		conv.fail("call %v", call)
		return nil
	}
	var result types.Type
	switch typ := call.Type().(type) {
	case *types.Tuple:
		if typ.Len() != 0 {
			conv.fail("multiple results from %s", callee.Name())
			return nil
		}
	default:
		result = typ
	}
	return conv.fn.NewCall(callee.Name(), result, args...)
}

func (conv *converterT) value(raw ssa.Value) ir.ValueT {
	switch v := raw.(type) {
	case *ssa.Const:
		if v.Value == nil || (v.Value.Kind() != constant.Int && v.Value.Kind() != constant.Bool) {
			conv.fail("constant %v", v)
			return ir.NewInt(types.Typ[types.Int], 0)
		}
		return ir.NewConst(v.Value, v.Type())
	}
	value := conv.values[raw]
	if value == nil {
		conv.fail("value %v (%T)", raw, raw)
		return ir.NewInt(types.Typ[types.Int], 0)
	}
	return value
}
