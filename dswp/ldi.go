// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package dswp

import (
	"fmt"
	"slices"

	"github.com/s48/dswp/ir"
	"github.com/s48/dswp/pdg"
	"github.com/s48/dswp/sccdag"
	"github.com/s48/dswp/util"
)

// Everything known about one loop during a single attempt to
// parallelize it.

type LoopDependenceInfoT struct {
	Func         *ir.FuncT
	Loop         *ir.LoopT
	Graph        *pdg.GraphT
	DAG          *sccdag.DAGT
	Merges       int // done by the SCC merge engine
	Partitioning *PartitioningT
	Stages       []*StageT // by order
	Queues       []*QueueInfoT
	Env          *EnvironmentT

	graft *graftT // what stitch changed, for undoing it
}

// One point-to-point queue carrying a producer's value to a later
// consumer stage.

type QueueInfoT struct {
	Index     int
	Producer  *ir.InstrT
	Consumers []*ir.InstrT // in the destination stage
	From      int          // producing stage
	To        int          // consuming stage
	Width     int          // in bits
}

func (queue *QueueInfoT) String() string {
	return fmt.Sprintf("q%d(%v %d->%d i%d)", queue.Index, queue.Producer, queue.From, queue.To, queue.Width)
}

type StageT struct {
	Order     int
	Partition *PartitionT
	Instrs    util.SetT[*ir.InstrT] // original instructions cloned into this stage
	Pushes    []*QueueInfoT
	Pops      []*QueueInfoT
	Inputs    []ir.ValueT  // environment values read
	Outputs   []*ir.InstrT // environment values written
	Func      *ir.FuncT
}

// The environment's slots are the incoming values, then the outgoing
// values, then the exit index.

type EnvironmentT struct {
	Incoming []ir.ValueT
	Outgoing []*ir.InstrT
	Exits    []*ir.BlockT
	ExitSlot int

	slots  map[ir.ValueT]int
	writer map[*ir.InstrT]int // stage that stores each outgoing value
}

func (env *EnvironmentT) Size() int {
	return env.ExitSlot + 1
}

func (env *EnvironmentT) Slot(value ir.ValueT) (int, bool) {
	slot, found := env.slots[value]
	return slot, found
}

func (env *EnvironmentT) Writer(value *ir.InstrT) int {
	return env.writer[value]
}

// The outgoing values passed to the PHIs in 'exit'.

func (env *EnvironmentT) OutgoingAt(exit *ir.BlockT) []*ir.InstrT {
	result := []*ir.InstrT{}
	for _, phi := range exit.Phis() {
		for _, operand := range phi.Operands {
			if instr, ok := operand.(*ir.InstrT); ok && slices.Contains(env.Outgoing, instr) && !slices.Contains(result, instr) {
				result = append(result, instr)
			}
		}
	}
	return result
}

func (ldi *LoopDependenceInfoT) QueueCount() int {
	return len(ldi.Queues)
}
