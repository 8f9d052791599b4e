// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Compile, pipeline and evaluate test files.
//  --go <file>       Compiles the functions in 'test/<file>.go', runs
//                    them, applies DSWP, and runs the results both
//                    pipelined and sequentially.
//  --func <name>     Only uses the named function.
//  --config <file>   Reads DSWP options from a YAML file.
//  --threads <n>     Overrides the ideal number of stages.
//  --print           Prints the transformed IR.
//  --emit-llvm <file> Writes the transformed module as LLVM assembly,
//                    '-' for standard output.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/s48/dswp/dispatch"
	"github.com/s48/dswp/dswp"
	"github.com/s48/dswp/front"
	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/llvmgen"
)

func main() {
	goFilename := flag.String("go", "", "Go file")
	goFunction := flag.String("func", "", "Go function")
	configFile := flag.String("config", "", "DSWP options file")
	threads := flag.Int("threads", 0, "ideal number of pipeline stages")
	printIR := flag.Bool("print", false, "print the transformed IR")
	emitLLVM := flag.String("emit-llvm", "", "LLVM output file")
	flag.Parse()

	if err := run(context.Background(), *goFilename, *goFunction, *configFile, *threads, *printIR, *emitLLVM); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, goFilename, goFunction, configFile string, threads int, printIR bool, emitLLVM string) error {
	options := dswp.DefaultOptions()
	if configFile != "" {
		var err error
		if options, err = dswp.LoadOptions(configFile); err != nil {
			return err
		}
	}
	if 0 < threads {
		options.IdealThreads = threads
	}
	if err := options.Validate(); err != nil {
		return err
	}

	source := "test/" + goFilename + ".go"
	in, err := os.ReadFile(source)
	if err != nil {
		return errors.Wrap(err, "read %s", source)
	}
	module, err := front.BuildSource(ctx, source, in)
	if err != nil {
		return err
	}
	if goFunction != "" {
		fn := module.Func(goFunction)
		if fn == nil {
			return errors.New("%s: no function %s", source, goFunction)
		}
		module.Funcs = []*ir.FuncT{fn}
	}

	okay := true
	before := ir.NewMachine(module)
	for _, fn := range module.Funcs {
		if test := allTests[fn.Name]; test != nil {
			okay = runTests(ctx, before, fn.Name, "original", test) && okay
		}
	}

	reports, err := dswp.ApplyModule(ctx, module, options)
	for _, report := range reports {
		fmt.Printf("%v\n", report)
	}
	if err != nil {
		return err
	}
	if printIR {
		fmt.Print(ir.SprintModule(module))
	}

	for _, sequential := range []int{0, 1} {
		machine := ir.NewMachine(module)
		dispatch.Install(machine, options.QueueCapacity)
		if global := module.Global(dswp.SequentialGlobalName); global != nil {
			machine.SetGlobal(global, sequential)
		}
		mode := "pipelined"
		if sequential != 0 {
			mode = "sequential"
		}
		for _, fn := range module.Funcs {
			if test := allTests[fn.Name]; test != nil {
				okay = runTests(ctx, machine, fn.Name, mode, test) && okay
			}
		}
	}

	if emitLLVM != "" {
		text, err := llvmgen.Sprint(module)
		if err != nil {
			return err
		}
		if emitLLVM == "-" {
			fmt.Print(text)
		} else if err := os.WriteFile(emitLLVM, []byte(text), 0o644); err != nil {
			return errors.Wrap(err, "write %s", emitLLVM)
		}
	}

	if !okay {
		return errors.New("tests failed")
	}
	return nil
}

//----------------------------------------------------------------

type testT struct {
	cases []testCaseT
}

// Inputs are ints or ir.SliceT values.  Slices are copied before
// each run because functions may modify them.

type testCaseT struct {
	inputs  []any
	outputs []int
}

func ints(values ...int) ir.SliceT {
	cells := make([]any, len(values))
	for i, n := range values {
		cells[i] = n
	}
	return ir.NewSlice(cells...)
}

var allTests = map[string]*testT{
	"power": &testT{cases: []testCaseT{
		testCaseT{[]any{2, 0}, []int{1}},
		testCaseT{[]any{3, 4}, []int{81}},
	}},
	"collatz_steps": &testT{cases: []testCaseT{
		testCaseT{[]any{1}, []int{0}},
		testCaseT{[]any{6}, []int{8}},
		testCaseT{[]any{27}, []int{111}},
	}},
	"countdown_pair": &testT{cases: []testCaseT{
		testCaseT{[]any{3, false}, []int{8}},
		testCaseT{[]any{3, true}, []int{10}},
	}},
	"sum_squares": &testT{cases: []testCaseT{
		testCaseT{[]any{0}, []int{0}},
		testCaseT{[]any{5}, []int{10030}},
		testCaseT{[]any{10}, []int{45285}},
	}},
	"scale_sum": &testT{cases: []testCaseT{
		testCaseT{[]any{ints(1, 2, 3), 2}, []int{12}},
		testCaseT{[]any{ints(5, -1), 3}, []int{12}},
		testCaseT{[]any{ints(), 3}, []int{0}},
	}},
	"prefix_count": &testT{cases: []testCaseT{
		testCaseT{[]any{ints(1, 2, 3, 4), 5}, []int{302}}, // stops at 3
		testCaseT{[]any{ints(1, 1), 10}, []int{202}},      // runs off the end
		testCaseT{[]any{ints(), 0}, []int{0}},
	}},
	"checksum": &testT{cases: []testCaseT{
		testCaseT{[]any{ints(1, 2, 3)}, []int{100664322}},
		testCaseT{[]any{ints(200, 100)}, []int{738203804}}, // sum wraps
	}},
	"nested_sums": &testT{cases: []testCaseT{
		testCaseT{[]any{2, 3}, []int{60}},
		testCaseT{[]any{3, 4}, []int{261}},
	}},
}

func freshInputs(inputs []any) []any {
	result := slices.Clone(inputs)
	for i, input := range result {
		if slice, ok := input.(ir.SliceT); ok {
			slice.Cells = slices.Clone(slice.Cells)
			result[i] = slice
		}
	}
	return result
}

func runTests(ctx context.Context, machine *ir.MachineT, name string, mode string, test *testT) bool {
	okay := true
	fmt.Printf("running '%s' tests (%s)\n", name, mode)
	for i, testCase := range test.cases {
		results, err := machine.CallNamed(ctx, name, freshInputs(testCase.inputs)...)
		if err != nil {
			fmt.Printf("  test %d failed: %v\n", i, err)
			tlog.Printw("test failed", "func", name, "mode", mode, "case", i, "err", err)
			okay = false
			continue
		}
		if len(results) != len(testCase.outputs) {
			fmt.Printf("  test %d returned %d outputs when %d were expected\n",
				i, len(results), len(testCase.outputs))
			okay = false
			continue
		}
		for j, result := range results {
			if result == testCase.outputs[j] {
				continue
			}
			fmt.Printf("  test %d returned %v but expected %v\n", i, results, testCase.outputs)
			okay = false
			break
		}
	}
	return okay
}
