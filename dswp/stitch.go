// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Grafting the pipeline into the original function.
//
//   guard:     if dswp.sequential == 0 goto pipeline else goto preheader
//   pipeline:  build the environment, stage, queue and width arrays
//              call stageDispatcher(env, queues, widths, stages, #stages, #queues)
//              load the outgoing values for the exit PHIs
//              switch on the exit index to the original exits
//
// The sequential loop is left in place behind the guard.

package dswp

import (
	"go/constant"
	"go/token"
	"go/types"
	"slices"

	"github.com/nikandfor/errors"

	"github.com/s48/dswp/dispatch"
	"github.com/s48/dswp/ir"
)

// The global that selects the sequential loop when nonzero.  The host
// sets it before running any transformed code and never changes it
// afterwards.

const SequentialGlobalName = "dswp.sequential"

var (
	countType = types.Typ[types.Int64]
	widthType = types.Typ[types.Int64]
)

// Checks that every value used after the loop reaches its user through
// a PHI in an exit block.  This must hold before anything is changed.

func (ldi *LoopDependenceInfoT) checkExitUses() error {
	for _, edge := range ldi.Graph.Outgoing {
		user := edge.To.(*ir.InstrT)
		if !user.IsPhi() || !slices.Contains(ldi.Env.Exits, user.Block) {
			return errors.Wrap(ErrInvariantViolation, "%v is used by %v outside an exit PHI", edge.From, user)
		}
	}
	return nil
}

// The changes made by stitch.

type graftT struct {
	guard      *ir.BlockT
	pipeline   *ir.BlockT
	preheader  *ir.BlockT
	redirected []*ir.BlockT // former predecessors of the preheader
	global     *ir.GlobalT  // nil if it already existed
}

// Adds the stages to the module and the guard and pipeline blocks to
// the function.  Nothing here can fail; every check has been made
// already.

func (ldi *LoopDependenceInfoT) stitch(module *ir.ModuleT) {
	fn := ldi.Func
	loop := ldi.Loop
	env := ldi.Env
	preheader := loop.Preheader()
	intType := types.Typ[types.Int]
	index := func(n int) ir.ValueT { return ir.NewInt(intType, n) }

	for _, stage := range ldi.Stages {
		module.AddFunc(stage.Func)
	}
	graft := &graftT{preheader: preheader, redirected: slices.Clone(preheader.Preds)}
	if module.Global(SequentialGlobalName) == nil {
		graft.global = module.EnsureGlobal(SequentialGlobalName, intType, constant.MakeInt64(0))
	}
	sequential := module.Global(SequentialGlobalName)

	guard := ir.InsertBlockBefore(fn, preheader, "dswp.guard")
	pipeline := ir.InsertBlockBefore(fn, preheader, "dswp.pipeline")
	graft.guard, graft.pipeline = guard, pipeline
	ldi.graft = graft
	for _, pred := range graft.redirected {
		pred.Terminator().ReplaceTarget(preheader, guard)
	}

	toggle := fn.NewLoad(intType, sequential)
	parallel := fn.NewCompare(token.EQL, toggle, ir.NewInt(intType, 0))
	guard.Append(toggle, parallel, fn.NewIf(parallel, pipeline, preheader))

	envArray := fn.NewAlloca(OpaquePointer, env.Size())
	envArray.Name = "env"
	pipeline.Append(envArray)
	cells := make([]*ir.InstrT, env.Size())
	slotType := func(slot int) types.Type {
		switch {
		case slot < len(env.Incoming):
			return env.Incoming[slot].Type()
		case slot < env.ExitSlot:
			return env.Outgoing[slot-len(env.Incoming)].Typ
		}
		return exitIndexType
	}
	for slot := range cells {
		cells[slot] = fn.NewAlloca(slotType(slot), 1)
		addr := fn.NewElementPtr(envArray, index(slot))
		pipeline.Append(cells[slot], addr, fn.NewStore(addr, cells[slot]))
		if slot < len(env.Incoming) {
			pipeline.Append(fn.NewStore(cells[slot], env.Incoming[slot]))
		}
	}

	stageArray := fn.NewAlloca(OpaquePointer, len(ldi.Stages))
	stageArray.Name = "stages"
	pipeline.Append(stageArray)
	for i, stage := range ldi.Stages {
		addr := fn.NewElementPtr(stageArray, index(i))
		pipeline.Append(addr, fn.NewStore(addr, stage.Func))
	}

	queueCount := len(ldi.Queues)
	queueArray := fn.NewAlloca(OpaquePointer, max(queueCount, 1))
	queueArray.Name = "queues"
	widthArray := fn.NewAlloca(widthType, max(queueCount, 1))
	widthArray.Name = "widths"
	pipeline.Append(queueArray, widthArray)
	for _, queue := range ldi.Queues {
		addr := fn.NewElementPtr(widthArray, index(queue.Index))
		pipeline.Append(addr, fn.NewStore(addr, ir.NewInt(widthType, queue.Width)))
	}

	pipeline.Append(fn.NewCall(dispatch.DispatcherName, nil,
		envArray, queueArray, widthArray, stageArray,
		ir.NewInt(countType, len(ldi.Stages)), ir.NewInt(countType, queueCount)))

	results := map[*ir.InstrT]*ir.InstrT{}
	for i, value := range env.Outgoing {
		result := fn.NewLoad(value.Typ, cells[len(env.Incoming)+i])
		result.Name = value.Name
		pipeline.Append(result)
		results[value] = result
	}
	for _, exit := range env.Exits {
		for _, phi := range exit.Phis() {
			value := phi.Operands[0]
			if instr, ok := value.(*ir.InstrT); ok && results[instr] != nil {
				value = results[instr]
			}
			phi.AddIncoming(value, pipeline)
		}
	}

	exitIndex := fn.NewLoad(exitIndexType, cells[env.ExitSlot])
	exitIndex.Name = "exit"
	cases := []int{}
	for i := 1; i < len(env.Exits); i++ {
		cases = append(cases, i)
	}
	pipeline.Append(exitIndex, fn.NewSwitch(exitIndex, env.Exits[0], cases, env.Exits[1:]))

	fn.ComputeCFG()
}

// Puts the function and module back the way they were before stitch.

func (ldi *LoopDependenceInfoT) unstitch(module *ir.ModuleT) {
	graft := ldi.graft
	if graft == nil {
		return
	}
	fn := ldi.Func
	for _, stage := range ldi.Stages {
		module.RemoveFunc(stage.Func)
	}
	if graft.global != nil {
		module.Globals = slices.DeleteFunc(module.Globals, func(g *ir.GlobalT) bool { return g == graft.global })
	}
	for _, pred := range graft.redirected {
		pred.Terminator().ReplaceTarget(graft.guard, graft.preheader)
	}
	for _, exit := range ldi.Env.Exits {
		for _, phi := range exit.Phis() {
			phi.RemoveIncoming(graft.pipeline)
		}
	}
	fn.RemoveBlocks(graft.guard, graft.pipeline)
	ldi.graft = nil
	fn.ComputeCFG()
}
