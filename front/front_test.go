// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package front

import (
	"context"
	"testing"

	"github.com/s48/dswp/ir"
)

const source = `
package app

func fact(n int) int {
	r := 1
	for i := 2; i <= n; i++ {
		r *= i
	}
	return r
}

func total(xs []int) int {
	t := 0
	for _, x := range xs {
		t += x
	}
	return t
}

func narrow(x uint8, y uint8) uint8 {
	if x < y {
		return y - x
	}
	return x - y
}

func twice(n int) int {
	return fact(n) + fact(n)
}

func floats(x float64) float64 {
	return x * 2
}
`

func TestBuildSource(t *testing.T) {
	ctx := context.Background()
	module, err := BuildSource(ctx, "app.go", []byte(source))
	if err != nil {
		t.Fatalf("BuildSource: %v", err)
	}
	if module.Func("floats") != nil {
		t.Errorf("floats was converted")
	}
	for _, fn := range module.Funcs {
		if err := ir.CheckFunc(fn); err != nil {
			t.Errorf("%s: %v", fn.Name, err)
		}
	}
	if len(ir.FindLoops(module.Func("fact"))) != 1 {
		t.Errorf("fact should have one loop")
	}

	machine := ir.NewMachine(module)
	tests := []struct {
		name string
		args []any
		want any
	}{
		{"fact", []any{5}, 120},
		{"fact", []any{1}, 1},
		{"total", []any{ir.NewSlice(1, 2, 3, 4)}, 10},
		{"narrow", []any{3, 10}, 7},
		{"narrow", []any{10, 3}, 7},
		{"twice", []any{4}, 48},
	}
	for _, test := range tests {
		results, err := machine.CallNamed(ctx, test.name, test.args...)
		if err != nil {
			t.Errorf("%s%v: %v", test.name, test.args, err)
			continue
		}
		if len(results) != 1 || results[0] != test.want {
			t.Errorf("%s%v = %v, want %v", test.name, test.args, results, test.want)
		}
	}
}

func TestBuildSourceErrors(t *testing.T) {
	if _, err := BuildSource(context.Background(), "bad.go", []byte("package app\nfunc (")); err == nil {
		t.Errorf("syntax error not reported")
	}
	if _, err := BuildSource(context.Background(), "bad.go", []byte("package app\nfunc f() int { return g }")); err == nil {
		t.Errorf("type error not reported")
	}
}
