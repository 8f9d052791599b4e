// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Deciding what each stage computes and what it has to be sent.
//
// A stage clones its partition's instructions, every terminator in
// the loop, and whatever removable instructions those use.  Any other
// loop value a clone uses arrives on a queue from the stage that owns
// it, one queue per producer and consuming stage.  Branch conditions
// are found the same way, so a condition reaches every stage that
// does not compute it.  Values from outside the loop come from the
// environment.

package dswp

import (
	"cmp"
	"go/types"
	"slices"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/s48/dswp/dispatch"
	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/pdg"
	"github.com/s48/dswp/util"
)

// The queue width for values of 'typ', or zero if there is none.
// Booleans travel in bytes.

func QueueWidth(typ types.Type) int {
	width := ir.BitWidth(typ)
	if width == 1 {
		width = 8
	}
	if !slices.Contains(dispatch.Widths, width) {
		return 0
	}
	return width
}

func (ldi *LoopDependenceInfoT) planStages() error {
	graph := ldi.Graph
	pt := ldi.Partitioning
	order := map[*ir.InstrT]int{}
	for i, instr := range graph.Internal {
		order[instr] = i
	}
	byOrder := func(x, y *ir.InstrT) int { return order[x] - order[y] }

	for _, edge := range graph.Edges {
		if edge.Kind != pdg.MemoryDep {
			continue
		}
		from := pt.OwnerOf(edge.From.(*ir.InstrT))
		to := pt.OwnerOf(edge.To.(*ir.InstrT))
		if from != to {
			return errors.Wrap(ErrCrossStageMemory, "%v and %v", edge.From, edge.To)
		}
	}

	terminators := util.Filter(func(instr *ir.InstrT) bool { return instr.IsTerminator() }, graph.Internal)
	for _, part := range pt.Partitions {
		stage := &StageT{Order: part.Order, Partition: part, Instrs: util.NewSet(terminators...)}
		for _, node := range part.Nodes {
			stage.Instrs.Add(node.Instrs...)
		}
		ldi.Stages = append(ldi.Stages, stage)
	}

	env := &EnvironmentT{
		slots:  map[ir.ValueT]int{},
		writer: map[*ir.InstrT]int{},
	}
	if ldi.Loop != nil {
		env.Exits = ldi.Loop.Exits()
	}
	ldi.Env = env
	for _, edge := range graph.Outgoing {
		producer := edge.From.(*ir.InstrT)
		if _, found := env.writer[producer]; found {
			continue
		}
		writer := 0
		if owner := pt.OwnerOf(producer); owner != nil {
			writer = owner.Order
		}
		env.writer[producer] = writer
		env.Outgoing = append(env.Outgoing, producer)
		ldi.Stages[writer].Instrs.Add(producer)
		ldi.Stages[writer].Outputs = append(ldi.Stages[writer].Outputs, producer)
	}

	for _, stage := range ldi.Stages {
		ldi.addRemovableOperands(stage)
	}

	queues := map[*ir.InstrT]map[int]*QueueInfoT{}
	inputs := util.NewSet[ir.ValueT]()
	for _, stage := range ldi.Stages {
		stageInputs := util.NewSet[ir.ValueT]()
		for _, instr := range util.SortedFunc(stage.Instrs, byOrder) {
			for _, operand := range instr.Operands {
				switch operand.(type) {
				case *ir.ParamT, *ir.InstrT:
				default:
					continue
				}
				if !graph.IsInternal(operand) {
					if !stageInputs.Contains(operand) {
						stageInputs.Add(operand)
						stage.Inputs = append(stage.Inputs, operand)
					}
					inputs.Add(operand)
					continue
				}
				producer := operand.(*ir.InstrT)
				if stage.Instrs.Contains(producer) {
					continue
				}
				owner := pt.OwnerOf(producer)
				if owner == nil {
					return errors.New("removable %v missing from stage %d", producer, stage.Order)
				}
				if queues[producer] == nil {
					queues[producer] = map[int]*QueueInfoT{}
				}
				queue := queues[producer][stage.Order]
				if queue == nil {
					width := QueueWidth(producer.Typ)
					if width == 0 {
						return errors.Wrap(ErrUnsupportedWidth, "%v of type %v", producer, producer.Typ)
					}
					queue = &QueueInfoT{Producer: producer, From: owner.Order, To: stage.Order, Width: width}
					queues[producer][stage.Order] = queue
					ldi.Queues = append(ldi.Queues, queue)
				}
				if !slices.Contains(queue.Consumers, instr) {
					queue.Consumers = append(queue.Consumers, instr)
				}
			}
		}
	}
	slices.SortFunc(ldi.Queues, func(x, y *QueueInfoT) int {
		return cmp.Or(order[x.Producer]-order[y.Producer], x.To-y.To)
	})
	for i, queue := range ldi.Queues {
		queue.Index = i
		ldi.Stages[queue.From].Pushes = append(ldi.Stages[queue.From].Pushes, queue)
		ldi.Stages[queue.To].Pops = append(ldi.Stages[queue.To].Pops, queue)
	}

	for _, value := range graph.ExternalInputs() {
		if inputs.Contains(value) {
			env.slots[value] = len(env.Incoming)
			env.Incoming = append(env.Incoming, value)
		}
	}
	for _, value := range env.Outgoing {
		env.slots[value] = len(env.Incoming) + slices.Index(env.Outgoing, value)
	}
	env.ExitSlot = len(env.Incoming) + len(env.Outgoing)

	tlog.V("dswp").Printw("planned stages", "stages", len(ldi.Stages), "queues", len(ldi.Queues),
		"incoming", len(env.Incoming), "outgoing", len(env.Outgoing), "exits", len(env.Exits))
	return nil
}

// Adds the removable instructions that the stage's instructions
// depend on, directly or indirectly.

func (ldi *LoopDependenceInfoT) addRemovableOperands(stage *StageT) {
	todo := util.StackT[*ir.InstrT]{}
	todo.Push(stage.Instrs.Members()...)
	for !todo.Empty() {
		instr := todo.Pop()
		for _, operand := range instr.Operands {
			producer, ok := operand.(*ir.InstrT)
			if ok && !stage.Instrs.Contains(producer) && ldi.Graph.IsInternal(producer) && ldi.Partitioning.IsRemovable(producer) {
				stage.Instrs.Add(producer)
				todo.Push(producer)
			}
		}
	}
}
