// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package llvmgen

import (
	"context"
	"go/constant"
	"go/token"
	"go/types"
	"strings"
	"testing"

	"github.com/s48/dswp/dswp"
	"github.com/s48/dswp/front"
	"github.com/s48/dswp/ir"
)

var intType = types.Typ[types.Int]

// sum(n) = 0 + 1 + ... + n-1, with a call to an external function in
// the body.

func sumModule() *ir.ModuleT {
	module := ir.NewModule()
	flag := module.EnsureGlobal("flag", intType, constant.MakeInt64(3))
	fn := ir.NewFunc("sum")
	n := fn.AddParam("n", intType)
	fn.Results = []types.Type{intType}
	entry := fn.NewBlock("entry")
	header := fn.NewBlock("header")
	body := fn.NewBlock("body")
	exit := fn.NewBlock("exit")

	cell := fn.NewAlloca(intType, 1)
	entry.Append(cell, fn.NewJump(header))

	i := fn.NewPhi(intType)
	i.Name = "i"
	r := fn.NewPhi(intType)
	r.Name = "r"
	test := fn.NewCompare(token.LSS, i, n)
	header.Append(i, r, test, fn.NewIf(test, body, exit))

	next := fn.NewBinop(token.ADD, i, ir.NewInt(intType, 1))
	sum := fn.NewBinop(token.ADD, r, i)
	toggle := fn.NewLoad(intType, flag)
	body.Append(next, sum, toggle,
		fn.NewStore(cell, sum),
		fn.NewCall("observe", nil, toggle, cell),
		fn.NewJump(header))
	i.AddIncoming(ir.NewInt(intType, 0), entry)
	i.AddIncoming(next, body)
	r.AddIncoming(ir.NewInt(intType, 0), entry)
	r.AddIncoming(sum, body)

	exit.Append(fn.NewReturn(r))
	fn.ComputeCFG()
	module.AddFunc(fn)
	return module
}

func TestEmit(t *testing.T) {
	module := sumModule()
	if err := ir.CheckFunc(module.Funcs[0]); err != nil {
		t.Fatalf("bad test function: %v", err)
	}
	text, err := Sprint(module)
	if err != nil {
		t.Fatalf("Sprint: %v", err)
	}
	for _, want := range []string{
		"@flag = global i64 3",
		"define i64 @sum(i64 %n)",
		"declare void @observe(",
		"phi i64 [ 0, %entry.",
		"icmp slt i64",
		"call void @observe(",
		"ret i64",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output is missing %q:\n%s", want, text)
		}
	}
}

const squares = `
package app

func sum_squares(n int) int {
	s := 0
	q := 0
	for i := 0; i < n; i++ {
		s += i
		q += i * i
	}
	return s*1000 + q
}
`

// The stitched function and its stages, with PHIs in every one.

func TestEmitPipeline(t *testing.T) {
	ctx := context.Background()
	module, err := front.BuildSource(ctx, "squares.go", []byte(squares))
	if err != nil {
		t.Fatalf("BuildSource: %v", err)
	}
	reports, err := dswp.ApplyModule(ctx, module, dswp.DefaultOptions())
	if err != nil || len(reports) != 1 || reports[0].Err != nil {
		t.Fatalf("ApplyModule: %v %v", reports, err)
	}
	text, err := Sprint(module)
	if err != nil {
		t.Fatalf("Sprint: %v", err)
	}
	for _, want := range []string{
		"@dswp.sequential = global i64 0",
		"define i64 @sum_squares(i64 %n)",
		"define void @sum_squares.dswp.stage0(",
		"define void @sum_squares.dswp.stage1(",
		"declare void @stageDispatcher(",
		"call void @stageDispatcher(",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output is missing %q:\n%s", want, text)
		}
	}
	if n := strings.Count(text, " = phi "); n < 3 {
		t.Errorf("%d PHIs:\n%s", n, text)
	}
}

func TestEmitBlockOrder(t *testing.T) {
	out, err := Emit(sumModule())
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	sum := out.Funcs[0]
	if sum.Name() != "sum" {
		t.Fatalf("first function is %s", sum.Name())
	}
	if len(sum.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(sum.Blocks))
	}
	if !strings.HasPrefix(sum.Blocks[0].Name(), "entry") {
		t.Errorf("first block is %s", sum.Blocks[0].Name())
	}
}

func TestLLVMType(t *testing.T) {
	tests := []struct {
		typ  types.Type
		want string
	}{
		{types.Typ[types.Bool], "i1"},
		{types.Typ[types.Uint8], "i8"},
		{types.Typ[types.Int32], "i32"},
		{intType, "i64"},
		{types.Typ[types.UnsafePointer], "i8*"},
		{types.NewPointer(types.Typ[types.Int16]), "i16*"},
		{types.NewSlice(intType), "{ i64*, i64, i64 }"},
	}
	for _, test := range tests {
		got, err := LLVMType(test.typ)
		if err != nil {
			t.Errorf("%v: %v", test.typ, err)
			continue
		}
		if got.String() != test.want {
			t.Errorf("%v: got %s, want %s", test.typ, got, test.want)
		}
	}
	if _, err := LLVMType(types.Typ[types.Float64]); err == nil {
		t.Errorf("float64 should not have an LLVM type")
	}
}
