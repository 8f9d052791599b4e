// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package dispatch

import (
	"context"
	"go/token"
	"go/types"
	"testing"
	"time"

	"github.com/s48/dswp/ir"
)

func TestQueue(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue[int16](3)
	for i := range 3 {
		if err := queue.Push(ctx, int16(i*100)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if queue.Len() != 3 || queue.Cap() != 3 {
		t.Errorf("len %d cap %d", queue.Len(), queue.Cap())
	}
	for i := range 3 {
		if n, err := queue.Pop(ctx); err != nil || n != int16(i*100) {
			t.Errorf("Pop = %d %v, want %d", n, err, i*100)
		}
	}
}

func TestQueueCancel(t *testing.T) {
	queue := NewQueue[int8](1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := queue.Pop(ctx); err == nil {
		t.Errorf("Pop from an empty queue returned")
	}
	queue.Push(context.Background(), 1)
	if err := queue.Push(ctx, 2); err == nil {
		t.Errorf("Push to a full queue returned")
	}
}

func TestNewQueueOfWidth(t *testing.T) {
	if _, ok := NewQueueOfWidth(8, 1).(*QueueT[int8]); !ok {
		t.Errorf("wrong queue for width 8")
	}
	if _, ok := NewQueueOfWidth(64, 1).(*QueueT[int64]); !ok {
		t.Errorf("wrong queue for width 64")
	}
	if NewQueueOfWidth(12, 1) != nil {
		t.Errorf("queue made for width 12")
	}
}

var (
	intType    = types.Typ[types.Int]
	opaque     = types.Typ[types.UnsafePointer]
	opaqueCell = types.NewPointer(opaque)
)

// Two stages joined by one queue of 'width' bits.  The producer pushes
// n, n-1, ... 1, 0 and the consumer adds up what it pops until it sees
// the zero.  The environment holds a cell for n and one for the total.
//
//   producer(env, queues):
//     entry: q = queues[0]; cell = alloca; n = *env[0]; goto loop
//     loop:  i = phi(n, i - 1); *cell = i; push(q, cell); if 0 < i goto loop else done
//
//   consumer(env, queues):
//     entry: q = queues[0]; cell = alloca; goto loop
//     loop:  s = phi(0, s + x); pop(q, cell); x = *cell; if x != 0 goto loop else done
//     done:  *env[1] = s + x

func makeStages(width int, elem types.Type) *ir.ModuleT {
	module := ir.NewModule()

	producer := ir.NewFunc("producer")
	env := producer.AddParam("env", opaqueCell)
	queues := producer.AddParam("queues", opaqueCell)
	entry := producer.NewBlock("entry")
	loop := producer.NewBlock("loop")
	done := producer.NewBlock("done")
	slot := producer.NewElementPtr(queues, ir.NewInt(intType, 0))
	queue := producer.NewLoad(opaque, slot)
	cell := producer.NewAlloca(elem, 1)
	envSlot := producer.NewElementPtr(env, ir.NewInt(intType, 0))
	envCell := producer.NewLoad(opaque, envSlot)
	n := producer.NewLoad(elem, envCell)
	entry.Append(slot, queue, cell, envSlot, envCell, n, producer.NewJump(loop))
	i := producer.NewPhi(elem)
	next := producer.NewBinop(token.SUB, i, ir.NewInt(elem, 1))
	more := producer.NewCompare(token.LSS, ir.NewInt(elem, 0), i)
	loop.Append(i, producer.NewStore(cell, i),
		producer.NewCall(QueuePushName(width), nil, queue, cell),
		next, more, producer.NewIf(more, loop, done))
	i.AddIncoming(n, entry)
	i.AddIncoming(next, loop)
	done.Append(producer.NewReturn())
	producer.ComputeCFG()
	module.AddFunc(producer)

	consumer := ir.NewFunc("consumer")
	env = consumer.AddParam("env", opaqueCell)
	queues = consumer.AddParam("queues", opaqueCell)
	entry = consumer.NewBlock("entry")
	loop = consumer.NewBlock("loop")
	done = consumer.NewBlock("done")
	slot = consumer.NewElementPtr(queues, ir.NewInt(intType, 0))
	queue = consumer.NewLoad(opaque, slot)
	cell = consumer.NewAlloca(elem, 1)
	entry.Append(slot, queue, cell, consumer.NewJump(loop))
	sum := consumer.NewPhi(intType)
	x := consumer.NewLoad(elem, cell)
	wide := consumer.NewConvert(x, intType)
	total := consumer.NewBinop(token.ADD, sum, wide)
	more = consumer.NewCompare(token.NEQ, x, ir.NewInt(elem, 0))
	loop.Append(sum, consumer.NewCall(QueuePopName(width), nil, queue, cell),
		x, wide, total, more, consumer.NewIf(more, loop, done))
	sum.AddIncoming(ir.NewInt(intType, 0), entry)
	sum.AddIncoming(total, loop)
	envSlot = consumer.NewElementPtr(env, ir.NewInt(intType, 1))
	envCell = consumer.NewLoad(opaque, envSlot)
	done.Append(envSlot, envCell, consumer.NewStore(envCell, total), consumer.NewReturn())
	consumer.ComputeCFG()
	module.AddFunc(consumer)
	return module
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		width int
		elem  types.Type
		n     int
	}{
		{8, types.Typ[types.Uint8], 20},
		{16, types.Typ[types.Int16], 200},
		{32, types.Typ[types.Int32], 1000},
		{64, intType, 1000},
	}
	for _, test := range tests {
		module := makeStages(test.width, test.elem)
		machine := ir.NewMachine(module)
		Install(machine, 4)
		input := ir.PointerT{Cells: []any{test.n}, Elem: test.elem}
		output := ir.PointerT{Cells: []any{0}, Elem: intType}
		env := ir.PointerT{Cells: []any{input, output}, Elem: opaque}
		queues := ir.PointerT{Cells: []any{nil}, Elem: opaque}
		widths := ir.PointerT{Cells: []any{test.width}, Elem: intType}
		stages := ir.PointerT{Cells: []any{module.Func("producer"), module.Func("consumer")}, Elem: opaque}
		_, err := machine.CallNamed(context.Background(), DispatcherName, env, queues, widths, stages, 2, 1)
		if err != nil {
			t.Fatalf("width %d: %v", test.width, err)
		}
		if want := test.n * (test.n + 1) / 2; output.Cells[0] != want {
			t.Errorf("width %d: total %v, want %d", test.width, output.Cells[0], want)
		}
		if _, ok := queues.Cells[0].(interface{ Len() int }); !ok {
			t.Errorf("width %d: queue array holds %T", test.width, queues.Cells[0])
		}
	}
}

func TestDispatchErrors(t *testing.T) {
	module := makeStages(64, intType)
	machine := ir.NewMachine(module)
	Install(machine, 4)
	ctx := context.Background()
	cells := func(values ...any) ir.PointerT { return ir.PointerT{Cells: values, Elem: opaque} }

	if _, err := machine.CallNamed(ctx, DispatcherName, cells(nil)); err == nil {
		t.Errorf("wrong argument count accepted")
	}
	_, err := machine.CallNamed(ctx, DispatcherName, cells(nil, nil), cells(nil), cells(12), cells(nil), 0, 1)
	if err == nil {
		t.Errorf("unsupported width accepted")
	}
	_, err = machine.CallNamed(ctx, DispatcherName, cells(nil, nil), cells(nil), cells(64), cells("producer"), 1, 1)
	if err == nil {
		t.Errorf("bad stage accepted")
	}

	// A consumer whose producer fails is cancelled rather than left
	// waiting forever.
	input := ir.PointerT{Cells: []any{"not a number"}, Elem: intType}
	output := ir.PointerT{Cells: []any{0}, Elem: intType}
	stages := cells(module.Func("producer"), module.Func("consumer"))
	_, err = machine.CallNamed(ctx, DispatcherName, cells(input, output), cells(nil), cells(64), stages, 2, 1)
	if err == nil {
		t.Errorf("failing stage not reported")
	}
}
