// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Building the procedure for each stage.
//
// The stage's blocks mirror the loop's blocks one for one.  Each
// block is assembled with a block builder, keyed by the position of
// the original instruction, so that pops and pushes land next to the
// instruction whose value they carry:
//
//   (i, phaseClone)  the clone of the instruction at position i
//   (i, phasePop)    pop of a value produced at position i
//   (i, phasePush)   push of a value produced at position i
//
// Values produced by PHIs are popped and pushed after the last PHI.

package dswp

import (
	"fmt"
	"go/types"
	"slices"

	"github.com/nikandfor/errors"

	"github.com/s48/dswp/dispatch"
	"github.com/s48/dswp/ir"
)

const (
	phaseClone = iota
	phasePop
	phasePush
)

var (
	OpaquePointer = types.Typ[types.UnsafePointer]
	// Environments and queue arrays are arrays of opaque pointers.
	OpaqueArray   = types.NewPointer(OpaquePointer)
	exitIndexType = types.Typ[types.Int32]
)

type stageBuilderT struct {
	ldi      *LoopDependenceInfoT
	stage    *StageT
	fn       *ir.FuncT
	env      *ir.ParamT
	queues   *ir.ParamT
	entry    *ir.BlockT
	clones   map[*ir.BlockT]*ir.BlockT
	exits    map[*ir.BlockT]*ir.BlockT
	builders map[*ir.BlockT]*ir.BlockBuilderT
	values   map[ir.ValueT]ir.ValueT // original value to stage value
	cloned   []*ir.InstrT
	handles  map[*QueueInfoT]*ir.InstrT
	scratch  map[*QueueInfoT]*ir.InstrT
}

func (ldi *LoopDependenceInfoT) materialize(stage *StageT) error {
	loop := ldi.Loop
	fn := ir.NewFunc(fmt.Sprintf("%s.dswp.stage%d", ldi.Func.Name, stage.Order))
	sb := &stageBuilderT{
		ldi:      ldi,
		stage:    stage,
		fn:       fn,
		env:      fn.AddParam("env", OpaqueArray),
		queues:   fn.AddParam("queues", OpaqueArray),
		entry:    fn.NewBlock("entry"),
		clones:   map[*ir.BlockT]*ir.BlockT{},
		exits:    map[*ir.BlockT]*ir.BlockT{},
		builders: map[*ir.BlockT]*ir.BlockBuilderT{},
		values:   map[ir.ValueT]ir.ValueT{},
		handles:  map[*QueueInfoT]*ir.InstrT{},
		scratch:  map[*QueueInfoT]*ir.InstrT{},
	}
	for _, block := range loop.BlockList() {
		sb.clones[block] = fn.NewBlock(block.Name)
		sb.builders[block] = ir.NewBlockBuilder(sb.clones[block])
	}
	for _, exit := range ldi.Env.Exits {
		sb.exits[exit] = fn.NewBlock("exit")
	}
	done := fn.NewBlock("done")

	sb.buildEntry()
	for _, block := range loop.BlockList() {
		sb.cloneBlock(block)
	}
	for _, queue := range stage.Pops {
		sb.addPop(queue)
	}
	for _, queue := range stage.Pushes {
		sb.addPush(queue)
	}
	for _, block := range loop.BlockList() {
		sb.builders[block].Finalize()
	}
	if err := sb.remap(); err != nil {
		return err
	}
	for i, exit := range ldi.Env.Exits {
		sb.buildExit(sb.exits[exit], exit, i, done)
	}
	done.Append(fn.NewReturn())

	fn.ComputeCFG()
	if err := ir.CheckFunc(fn); err != nil {
		return errors.Wrap(err, "stage %d", stage.Order)
	}
	stage.Func = fn
	return nil
}

// The entry block gets the queue handles, the scratch cells for
// queue transfers, and the incoming environment values.

func (sb *stageBuilderT) buildEntry() {
	fn := sb.fn
	queues := append(slices.Clone(sb.stage.Pushes), sb.stage.Pops...)
	slices.SortFunc(queues, func(x, y *QueueInfoT) int { return x.Index - y.Index })
	for _, queue := range queues {
		slot := sb.append(fn.NewElementPtr(sb.queues, ir.NewInt(types.Typ[types.Int], queue.Index)))
		handle := sb.append(fn.NewLoad(OpaquePointer, slot))
		handle.Name = fmt.Sprintf("q%d", queue.Index)
		sb.handles[queue] = handle
		sb.scratch[queue] = sb.append(fn.NewAlloca(queue.Producer.Typ, 1))
	}
	for _, value := range sb.stage.Inputs {
		slot, _ := sb.ldi.Env.Slot(value)
		cell := sb.loadEnvCell(sb.entry, slot)
		load := sb.append(fn.NewLoad(value.Type(), cell))
		if instr, ok := value.(*ir.InstrT); ok {
			load.Name = instr.Name
		} else if param, ok := value.(*ir.ParamT); ok {
			load.Name = param.Name
		}
		sb.values[value] = load
	}
	sb.append(fn.NewJump(sb.clones[sb.ldi.Loop.Header]))
}

func (sb *stageBuilderT) append(instr *ir.InstrT) *ir.InstrT {
	sb.entry.Append(instr)
	return instr
}

// Appends code to 'block' that loads the pointer in environment slot
// 'slot'.

func (sb *stageBuilderT) loadEnvCell(block *ir.BlockT, slot int) *ir.InstrT {
	addr := sb.fn.NewElementPtr(sb.env, ir.NewInt(types.Typ[types.Int], slot))
	cell := sb.fn.NewLoad(OpaquePointer, addr)
	block.Append(addr, cell)
	return cell
}

func (sb *stageBuilderT) cloneBlock(block *ir.BlockT) {
	builder := sb.builders[block]
	for i, instr := range block.Instrs {
		if !sb.stage.Instrs.Contains(instr) {
			continue
		}
		clone := sb.fn.CloneInstr(instr)
		builder.Add(ir.OrderKeyT{Position: i, Phase: phaseClone}, clone)
		sb.values[instr] = clone
		sb.cloned = append(sb.cloned, clone)
	}
}

// Where transfers of 'producer's value go.

func transferKey(producer *ir.InstrT, phase int) ir.OrderKeyT {
	return ir.OrderKeyT{
		Position: max(producer.Position(), len(producer.Block.Phis())-1),
		Phase:    phase,
	}
}

func (sb *stageBuilderT) addPop(queue *QueueInfoT) {
	producer := queue.Producer
	builder := sb.builders[producer.Block]
	key := transferKey(producer, phasePop)
	builder.Add(key, sb.fn.NewCall(dispatch.QueuePopName(queue.Width), nil, sb.handles[queue], sb.scratch[queue]))
	value := builder.Add(key, sb.fn.NewLoad(producer.Typ, sb.scratch[queue]))
	value.Name = producer.Name
	sb.values[producer] = value
}

func (sb *stageBuilderT) addPush(queue *QueueInfoT) {
	producer := queue.Producer
	builder := sb.builders[producer.Block]
	key := transferKey(producer, phasePush)
	builder.Add(key, sb.fn.NewStore(sb.scratch[queue], sb.values[producer]))
	builder.Add(key, sb.fn.NewCall(dispatch.QueuePushName(queue.Width), nil, sb.handles[queue], sb.scratch[queue]))
}

// Points the clones' operands, PHI edges and branch targets at the
// stage's own values and blocks.

func (sb *stageBuilderT) remap() error {
	loop := sb.ldi.Loop
	for _, clone := range sb.cloned {
		for i, operand := range clone.Operands {
			switch operand.(type) {
			case *ir.InstrT, *ir.ParamT:
				value := sb.values[operand]
				if value == nil {
					return errors.New("stage %d: no value for %v used by %v", sb.stage.Order, operand, clone)
				}
				clone.Operands[i] = value
			}
		}
		for i, edge := range clone.Edges {
			if loop.Contains(edge) {
				clone.Edges[i] = sb.clones[edge]
			} else {
				clone.Edges[i] = sb.entry
			}
		}
		for i, target := range clone.Targets {
			if loop.Contains(target) {
				clone.Targets[i] = sb.clones[target]
			} else if exit := sb.exits[target]; exit != nil {
				clone.Targets[i] = exit
			} else {
				return errors.New("stage %d: %v branches to unknown block %v", sb.stage.Order, clone, target)
			}
		}
	}
	return nil
}

// Stores this stage's outgoing values for 'exit' and, in the first
// stage, the exit's index.

func (sb *stageBuilderT) buildExit(block *ir.BlockT, exit *ir.BlockT, index int, done *ir.BlockT) {
	env := sb.ldi.Env
	for _, value := range env.OutgoingAt(exit) {
		if env.Writer(value) != sb.stage.Order {
			continue
		}
		slot, _ := env.Slot(value)
		cell := sb.loadEnvCell(block, slot)
		block.Append(sb.fn.NewStore(cell, sb.values[value]))
	}
	if sb.stage.Order == 0 {
		cell := sb.loadEnvCell(block, env.ExitSlot)
		block.Append(sb.fn.NewStore(cell, ir.NewInt(exitIndexType, index)))
	}
	block.Append(sb.fn.NewJump(done))
}
