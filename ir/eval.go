// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Run IR functions as a program for testing.  Integers of every size
// are represented as int, normalized to the width of their type after
// each operation.  Memory is a collection of cell slices; pointers
// and slices index into them.

package ir

import (
	"context"
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"sync"

	"github.com/nikandfor/errors"
)

type PointerT struct {
	Cells []any
	Index int
	Elem  types.Type // the type the pointer was allocated with
}

type SliceT struct {
	Cells  []any
	Offset int
	Len    int
}

func NewSlice(values ...any) SliceT {
	return SliceT{Cells: values, Len: len(values)}
}

// Returns the slice's contents as ints.

func (slice SliceT) Ints() []int {
	result := make([]int, slice.Len)
	for i := range result {
		n, _ := slice.Cells[slice.Offset+i].(int)
		result[i] = n
	}
	return result
}

// Builtins implement functions that have no IR body.

type BuiltinT func(ctx context.Context, machine *MachineT, args []any) ([]any, error)

type MachineT struct {
	Module    *ModuleT
	StepLimit int // per call, zero means no limit

	builtins map[string]BuiltinT
	globals  map[*GlobalT]PointerT
	mutex    sync.Mutex
}

func NewMachine(module *ModuleT) *MachineT {
	machine := &MachineT{
		Module:   module,
		builtins: map[string]BuiltinT{},
		globals:  map[*GlobalT]PointerT{},
	}
	return machine
}

func (machine *MachineT) DefineBuiltin(name string, builtin BuiltinT) {
	machine.builtins[name] = builtin
}

// Sets a global's value.  This must be done before any function
// that reads the global is started.

func (machine *MachineT) SetGlobal(global *GlobalT, value any) {
	machine.global(global).Cells[0] = value
}

func (machine *MachineT) global(global *GlobalT) PointerT {
	machine.mutex.Lock()
	defer machine.mutex.Unlock()
	ptr, found := machine.globals[global]
	if !found {
		ptr = PointerT{Cells: []any{nil}, Elem: global.Elem}
		if global.Init != nil {
			ptr.Cells[0] = constantValue(global.Init)
		}
		machine.globals[global] = ptr
	}
	return ptr
}

// Calls a function by name, either a builtin or one in the module.

func (machine *MachineT) CallNamed(ctx context.Context, name string, args ...any) ([]any, error) {
	if builtin := machine.builtins[name]; builtin != nil {
		return builtin(ctx, machine, args)
	}
	fn := machine.Module.Func(name)
	if fn == nil {
		return nil, errors.New("undefined function %s", name)
	}
	return machine.Call(ctx, fn, args...)
}

func (machine *MachineT) Call(ctx context.Context, fn *FuncT, args ...any) ([]any, error) {
	if len(args) != len(fn.Params) {
		return nil, errors.New("%s: called with %d arguments, wants %d", fn.Name, len(args), len(fn.Params))
	}
	frame := &frameT{machine: machine, values: map[ValueT]any{}}
	for i, param := range fn.Params {
		frame.values[param] = args[i]
	}
	var prev *BlockT
	block := fn.Entry()
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		phis := block.Phis()
		incoming := make([]any, len(phis))
		for i, phi := range phis {
			value, found := phi.IncomingFor(prev)
			if !found {
				return nil, errors.New("%s: %v has no value for predecessor %v", fn.Name, phi, prev)
			}
			incoming[i] = frame.value(value)
		}
		for i, phi := range phis {
			frame.values[phi] = incoming[i]
		}
		var next *BlockT
		for _, instr := range block.Instrs[len(phis):] {
			steps += 1
			if 0 < machine.StepLimit && machine.StepLimit < steps {
				return nil, errors.New("%s: step limit exceeded", fn.Name)
			}
			switch instr.Op {
			case OpJump:
				next = instr.Targets[0]
			case OpIf:
				if frame.boolValue(instr.Operands[0]) {
					next = instr.Targets[0]
				} else {
					next = instr.Targets[1]
				}
			case OpSwitch:
				x := frame.intValue(instr.Operands[0])
				next = instr.Targets[0]
				for i, c := range instr.Cases {
					if c == x {
						next = instr.Targets[i+1]
						break
					}
				}
			case OpReturn:
				results := make([]any, len(instr.Operands))
				for i, operand := range instr.Operands {
					results[i] = frame.value(operand)
				}
				return results, frame.err
			case OpCall:
				args := make([]any, len(instr.Operands))
				for i, operand := range instr.Operands {
					args[i] = frame.value(operand)
				}
				results, err := machine.CallNamed(ctx, instr.Callee, args...)
				if err != nil {
					return nil, errors.Wrap(err, "%s: call %s", fn.Name, instr.Callee)
				}
				if instr.HasValue() {
					if len(results) != 1 {
						return nil, errors.New("%s: %s returned %d values", fn.Name, instr.Callee, len(results))
					}
					frame.values[instr] = results[0]
				}
			default:
				frame.evalSimple(instr)
			}
			if frame.err != nil {
				return nil, errors.Wrap(frame.err, "%s: %v", fn.Name, instr)
			}
		}
		if next == nil {
			return nil, errors.New("%s: block %v has no terminator", fn.Name, block)
		}
		prev, block = block, next
	}
}

//----------------------------------------------------------------

type frameT struct {
	machine *MachineT
	values  map[ValueT]any
	err     error // first error seen
}

func (frame *frameT) fail(format string, args ...any) {
	if frame.err == nil {
		frame.err = errors.New(format, args...)
	}
}

func (frame *frameT) value(raw ValueT) any {
	switch value := raw.(type) {
	case *ConstT:
		return constantValue(value.Value)
	case *GlobalT:
		return frame.machine.global(value)
	case *FuncT:
		return value
	}
	result, found := frame.values[raw]
	if !found {
		frame.fail("no value for %v", raw)
	}
	return result
}

func (frame *frameT) intValue(raw ValueT) int {
	n, ok := frame.value(raw).(int)
	if !ok {
		frame.fail("%v is not an integer", raw)
	}
	return n
}

func (frame *frameT) boolValue(raw ValueT) bool {
	b, ok := frame.value(raw).(bool)
	if !ok {
		frame.fail("%v is not a boolean", raw)
	}
	return b
}

func (frame *frameT) pointerValue(raw ValueT) PointerT {
	ptr, ok := frame.value(raw).(PointerT)
	if !ok {
		frame.fail("%v is not a pointer", raw)
		return PointerT{}
	}
	if ptr.Index < 0 || len(ptr.Cells) <= ptr.Index {
		frame.fail("pointer %v out of range: %d of %d", raw, ptr.Index, len(ptr.Cells))
		return PointerT{Cells: []any{nil}}
	}
	return ptr
}

func (frame *frameT) evalSimple(instr *InstrT) {
	var result any
	switch instr.Op {
	case OpBinop:
		result = binop(instr.Token, frame.intValue(instr.Operands[0]), frame.intValue(instr.Operands[1]), instr.Typ, frame)
	case OpCompare:
		result = compare(instr.Token, frame.value(instr.Operands[0]), frame.value(instr.Operands[1]), instr.Operands[0].Type(), frame)
	case OpUnop:
		switch instr.Token {
		case token.NOT:
			result = !frame.boolValue(instr.Operands[0])
		case token.SUB:
			result = Normalize(-frame.intValue(instr.Operands[0]), instr.Typ)
		case token.XOR:
			result = Normalize(^frame.intValue(instr.Operands[0]), instr.Typ)
		default:
			frame.fail("unknown unary operator %v", instr.Token)
		}
	case OpConvert:
		result = Normalize(frame.intValue(instr.Operands[0]), instr.Typ)
	case OpLoad:
		ptr := frame.pointerValue(instr.Operands[0])
		result = ptr.Cells[ptr.Index]
		if result == nil {
			result = ZeroValue(instr.Typ)
		}
	case OpStore:
		ptr := frame.pointerValue(instr.Operands[0])
		ptr.Cells[ptr.Index] = frame.value(instr.Operands[1])
		return
	case OpIndexAddr:
		slice, ok := frame.value(instr.Operands[0]).(SliceT)
		index := frame.intValue(instr.Operands[1])
		if !ok {
			frame.fail("%v is not a slice", instr.Operands[0])
		} else if index < 0 || slice.Len <= index {
			frame.fail("index out of range [%d] with length %d", index, slice.Len)
		} else {
			result = PointerT{Cells: slice.Cells, Index: slice.Offset + index, Elem: instr.Typ.(*types.Pointer).Elem()}
		}
	case OpElementPtr:
		ptr, ok := frame.value(instr.Operands[0]).(PointerT)
		if !ok {
			frame.fail("%v is not a pointer", instr.Operands[0])
		}
		ptr.Index += frame.intValue(instr.Operands[1])
		result = ptr
	case OpAlloca:
		result = PointerT{Cells: make([]any, instr.Count), Elem: instr.Typ.(*types.Pointer).Elem()}
	case OpLen:
		slice, ok := frame.value(instr.Operands[0]).(SliceT)
		if !ok {
			frame.fail("%v is not a slice", instr.Operands[0])
		}
		result = slice.Len
	default:
		frame.fail("cannot evaluate %v", instr.Op)
	}
	frame.values[instr] = result
}

func binop(op token.Token, x int, y int, typ types.Type, frame *frameT) int {
	unsigned := IsUnsigned(typ)
	var result int
	switch op {
	case token.ADD:
		result = x + y
	case token.SUB:
		result = x - y
	case token.MUL:
		result = x * y
	case token.QUO, token.REM:
		if y == 0 {
			frame.fail("integer divide by zero")
			return 0
		}
		switch {
		case unsigned && op == token.QUO:
			result = int(uint64(x) / uint64(y))
		case unsigned:
			result = int(uint64(x) % uint64(y))
		case op == token.QUO:
			result = x / y
		default:
			result = x % y
		}
	case token.AND:
		result = x & y
	case token.OR:
		result = x | y
	case token.XOR:
		result = x ^ y
	case token.AND_NOT:
		result = x &^ y
	case token.SHL:
		result = x << uint(y)
	case token.SHR:
		if unsigned {
			result = int(uint64(Normalize(x, typ)) >> uint(y))
		} else {
			result = x >> uint(y)
		}
	default:
		frame.fail("unknown binary operator %v", op)
	}
	return Normalize(result, typ)
}

func compare(op token.Token, rawX any, rawY any, typ types.Type, frame *frameT) bool {
	if bx, ok := rawX.(bool); ok {
		by, _ := rawY.(bool)
		switch op {
		case token.EQL:
			return bx == by
		case token.NEQ:
			return bx != by
		}
		frame.fail("cannot compare booleans with %v", op)
		return false
	}
	x, xok := rawX.(int)
	y, yok := rawY.(int)
	if !xok || !yok {
		frame.fail("cannot compare %v and %v", rawX, rawY)
		return false
	}
	less := x < y
	if IsUnsigned(typ) {
		less = uint64(x) < uint64(y)
	}
	switch op {
	case token.EQL:
		return x == y
	case token.NEQ:
		return x != y
	case token.LSS:
		return less
	case token.LEQ:
		return less || x == y
	case token.GTR:
		return !less && x != y
	case token.GEQ:
		return !less
	}
	frame.fail("unknown comparison %v", op)
	return false
}

func constantValue(value constant.Value) any {
	switch value.Kind() {
	case constant.Bool:
		return constant.BoolVal(value)
	case constant.Int:
		if n, exact := constant.Int64Val(value); exact {
			return int(n)
		}
		n, _ := constant.Uint64Val(value)
		return int(n)
	}
	panic(fmt.Sprintf("unsupported constant %v", value))
}

func IsUnsigned(typ types.Type) bool {
	basic, ok := typ.Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsUnsigned != 0
}

// Truncates or sign-extends 'n' to the width of 'typ'.

func Normalize(n int, typ types.Type) int {
	basic, ok := typ.Underlying().(*types.Basic)
	if !ok {
		return n
	}
	switch basic.Kind() {
	case types.Int8:
		return int(int8(n))
	case types.Uint8:
		return int(uint8(n))
	case types.Int16:
		return int(int16(n))
	case types.Uint16:
		return int(uint16(n))
	case types.Int32:
		return int(int32(n))
	case types.Uint32:
		return int(uint32(n))
	}
	return n
}

func ZeroValue(typ types.Type) any {
	if basic, ok := typ.Underlying().(*types.Basic); ok {
		switch {
		case basic.Info()&types.IsBoolean != 0:
			return false
		case basic.Info()&types.IsInteger != 0:
			return 0
		}
	}
	return nil
}

// Bit width of values of 'typ', or zero if it is not a fixed-size
// scalar.

func BitWidth(typ types.Type) int {
	basic, ok := typ.Underlying().(*types.Basic)
	if !ok {
		return 0
	}
	switch basic.Kind() {
	case types.Bool, types.UntypedBool:
		return 1
	case types.Int8, types.Uint8:
		return 8
	case types.Int16, types.Uint16:
		return 16
	case types.Int32, types.Uint32:
		return 32
	case types.Int, types.Uint, types.Int64, types.Uint64, types.Uintptr, types.UntypedInt:
		return 64
	}
	return 0
}
