// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Decoupled software pipelining.  A loop is split into stages, each a
// separate procedure, that run concurrently and pass values through
// queues.  The steps are:
//   - build the loop's dependence graph and its SCC-DAG
//   - merge SCC-DAG nodes that would make poor stages
//   - partition the nodes into stages
//   - plan the queues and the environment
//   - build the stage procedures
//   - graft a call to the dispatcher into the original function
// Any step can decline the loop, in which case the function is not
// changed.

package dswp

import (
	"context"
	"fmt"
	"slices"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/pdg"
	"github.com/s48/dswp/sccdag"
)

// Parallelizes 'loop', which must be in canonical form (see
// ir.CanonicalizeLoop).  The returned information is valid whether or
// not the attempt succeeds, up to the point where it stopped.

func Parallelize(ctx context.Context, module *ir.ModuleT, fn *ir.FuncT, loop *ir.LoopT, options OptionsT) (*LoopDependenceInfoT, error) {
	_, tr := tlog.SpawnFromContextAndWrap(ctx, "dswp: parallelize", "func", fn.Name, "header", loop.Header)
	defer tr.Finish()

	ldi := &LoopDependenceInfoT{Func: fn, Loop: loop}
	if err := checkShape(loop); err != nil {
		return ldi, err
	}
	ldi.Graph = pdg.BuildLoop(fn, loop)
	ldi.DAG = sccdag.Build(ldi.Graph)
	before := ldi.DAG.Size()
	ldi.Merges = ldi.DAG.MergeToFixpoint()
	tr.Printw("scc dag", "sccs", before, "merges", ldi.Merges, "nodes", ldi.DAG.Size())
	if tlog.If("dswp,sccdag") {
		tr.Printw("scc dag", "dump", ldi.DAG.String())
	}

	pt, err := Partition(ldi.DAG, loop, options)
	ldi.Partitioning = pt
	if err != nil {
		return ldi, err
	}
	if err := ldi.planStages(); err != nil {
		return ldi, err
	}
	if err := ldi.checkExitUses(); err != nil {
		return ldi, err
	}
	for _, stage := range ldi.Stages {
		if err := ldi.materialize(stage); err != nil {
			return ldi, errors.Wrap(err, "materialize")
		}
	}
	ldi.stitch(module)
	if err := ir.CheckFunc(fn); err != nil {
		ldi.unstitch(module)
		return ldi, errors.Wrap(ErrInvariantViolation, "stitched function: %v", err)
	}
	tr.Printw("parallelized", "stages", len(ldi.Stages), "queues", len(ldi.Queues), "env", ldi.Env.Size())
	return ldi, nil
}

func checkShape(loop *ir.LoopT) error {
	preheader := loop.Preheader()
	if preheader == nil || len(preheader.Instrs) != 1 {
		return errors.Wrap(ErrNotApplicable, "no dedicated preheader")
	}
	exits := loop.Exits()
	if len(exits) == 0 {
		return errors.Wrap(ErrNotApplicable, "loop never exits")
	}
	for _, exit := range exits {
		if len(exit.Preds) != 1 {
			return errors.Wrap(ErrNotApplicable, "exit %v is shared", exit)
		}
	}
	for _, block := range loop.BlockList() {
		if term := block.Terminator(); term == nil || term.Op == ir.OpReturn {
			return errors.Wrap(ErrNotApplicable, "block %v does not branch", block)
		}
	}
	return nil
}

// The outcome of one attempt.

type ReportT struct {
	Func   string
	Header string
	Depth  int
	Stages int
	Queues int
	Merges int
	Err    error
}

func (report ReportT) String() string {
	if report.Err != nil {
		return fmt.Sprintf("%s %s: %v", report.Func, report.Header, report.Err)
	}
	return fmt.Sprintf("%s %s: %d stages, %d queues", report.Func, report.Header, report.Stages, report.Queues)
}

// Tries to parallelize the loops in every function of 'module'.  Loops
// are tried outermost first; when a loop is declined its sub-loops are
// tried in turn.  Returns one report per attempt, and the first
// broken invariant found, if any; other loops are still attempted.

func ApplyModule(ctx context.Context, module *ir.ModuleT, options OptionsT) ([]ReportT, error) {
	ctx, tr := tlog.SpawnFromContextAndWrap(ctx, "dswp: module", "funcs", len(module.Funcs))
	defer tr.Finish()

	reports := []ReportT{}
	done := 0
	var fatal error
	for _, fn := range slices.Clone(module.Funcs) {
		for _, err := range ir.CanonicalizeLoops(fn) {
			tr.Printw("canonicalize", "func", fn.Name, "err", err)
		}
		todo := []*ir.BlockT{}
		for _, loop := range ir.OutermostLoops(ir.FindLoops(fn)) {
			todo = append(todo, loop.Header)
		}
		for 0 < len(todo) {
			if 0 < options.MaxLoops && options.MaxLoops <= done {
				return reports, fatal
			}
			header := todo[0]
			todo = todo[1:]
			loop := findLoop(fn, header)
			if loop == nil {
				continue
			}
			ldi, err := Parallelize(ctx, module, fn, loop, options)
			report := ReportT{Func: fn.Name, Header: header.String(), Depth: loop.Depth, Err: err}
			report.Merges = ldi.Merges
			if err == nil {
				report.Stages = len(ldi.Stages)
				report.Queues = len(ldi.Queues)
				done += 1
			}
			reports = append(reports, report)
			tr.Printw("loop", "report", report.String())
			switch {
			case err == nil:
			case IsDeclined(err):
				for _, child := range loop.Children {
					todo = append(todo, child.Header)
				}
			default:
				tr.Printw("broken invariant", "func", fn.Name, "header", header, "err", err)
				if fatal == nil {
					fatal = errors.Wrap(err, "%s", fn.Name)
				}
			}
		}
	}
	return reports, fatal
}

func findLoop(fn *ir.FuncT, header *ir.BlockT) *ir.LoopT {
	for _, loop := range ir.FindLoops(fn) {
		if loop.Header == header {
			return loop
		}
	}
	return nil
}
