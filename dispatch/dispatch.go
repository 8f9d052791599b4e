// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

package dispatch

import (
	"context"
	"go/types"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"golang.org/x/sync/errgroup"

	"github.com/s48/dswp/ir"
)

// Installs the queue primitives and the dispatcher in 'machine'.
// 'capacity' is the size of every queue the dispatcher makes.

func Install(machine *ir.MachineT, capacity int) {
	machine.DefineBuiltin(QueuePushName(8), pushBuiltin[int8])
	machine.DefineBuiltin(QueuePushName(16), pushBuiltin[int16])
	machine.DefineBuiltin(QueuePushName(32), pushBuiltin[int32])
	machine.DefineBuiltin(QueuePushName(64), pushBuiltin[int64])
	machine.DefineBuiltin(QueuePopName(8), popBuiltin[int8])
	machine.DefineBuiltin(QueuePopName(16), popBuiltin[int16])
	machine.DefineBuiltin(QueuePopName(32), popBuiltin[int32])
	machine.DefineBuiltin(QueuePopName(64), popBuiltin[int64])
	machine.DefineBuiltin(DispatcherName, func(ctx context.Context, machine *ir.MachineT, args []any) ([]any, error) {
		return nil, dispatch(ctx, machine, capacity, args)
	})
}

// queuePushN(queue, pointer to value)

func pushBuiltin[E ElementT](ctx context.Context, machine *ir.MachineT, args []any) ([]any, error) {
	queue, cell, err := queueArgs[E](args)
	if err != nil {
		return nil, err
	}
	var n int
	switch value := cell.Cells[cell.Index].(type) {
	case nil:
	case bool:
		if value {
			n = 1
		}
	case int:
		n = value
	default:
		return nil, errors.New("cannot push %T", value)
	}
	return nil, queue.Push(ctx, E(n))
}

// queuePopN(queue, pointer to result)

func popBuiltin[E ElementT](ctx context.Context, machine *ir.MachineT, args []any) ([]any, error) {
	queue, cell, err := queueArgs[E](args)
	if err != nil {
		return nil, err
	}
	value, err := queue.Pop(ctx)
	if err != nil {
		return nil, err
	}
	if basic, ok := cell.Elem.Underlying().(*types.Basic); ok && basic.Info()&types.IsBoolean != 0 {
		cell.Cells[cell.Index] = value != 0
	} else {
		cell.Cells[cell.Index] = ir.Normalize(int(value), cell.Elem)
	}
	return nil, nil
}

func queueArgs[E ElementT](args []any) (*QueueT[E], ir.PointerT, error) {
	if len(args) != 2 {
		return nil, ir.PointerT{}, errors.New("queue operation with %d arguments", len(args))
	}
	queue, ok := args[0].(*QueueT[E])
	if !ok {
		return nil, ir.PointerT{}, errors.New("bad queue %T", args[0])
	}
	cell, ok := args[1].(ir.PointerT)
	if !ok || cell.Index < 0 || len(cell.Cells) <= cell.Index {
		return nil, ir.PointerT{}, errors.New("bad queue cell %v", args[1])
	}
	return queue, cell, nil
}

// stageDispatcher(env, queues, widths, stages, stageCount, queueCount)
//
// Fills the queue array with new queues of the given widths, runs
// every stage in its own goroutine, and waits for all of them.  If a
// stage fails the others are cancelled.

func dispatch(ctx context.Context, machine *ir.MachineT, capacity int, args []any) error {
	if len(args) != 6 {
		return errors.New("%s: %d arguments", DispatcherName, len(args))
	}
	env, ok1 := args[0].(ir.PointerT)
	queues, ok2 := args[1].(ir.PointerT)
	widths, ok3 := args[2].(ir.PointerT)
	stages, ok4 := args[3].(ir.PointerT)
	stageCount, ok5 := args[4].(int)
	queueCount, ok6 := args[5].(int)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return errors.New("%s: bad arguments %v", DispatcherName, args)
	}
	for i := 0; i < queueCount; i++ {
		width, _ := widths.Cells[widths.Index+i].(int)
		queue := NewQueueOfWidth(width, capacity)
		if queue == nil {
			return errors.New("%s: queue %d has unsupported width %d", DispatcherName, i, width)
		}
		queues.Cells[queues.Index+i] = queue
	}

	funcs := make([]*ir.FuncT, stageCount)
	for i := range funcs {
		stage, ok := stages.Cells[stages.Index+i].(*ir.FuncT)
		if !ok {
			return errors.New("%s: stage %d is %T", DispatcherName, i, stages.Cells[stages.Index+i])
		}
		funcs[i] = stage
	}

	ctx, tr := tlog.SpawnFromContextAndWrap(ctx, "dispatch", "stages", stageCount, "queues", queueCount)
	defer tr.Finish()
	group, ctx := errgroup.WithContext(ctx)
	for _, stage := range funcs {
		group.Go(func() error {
			if _, err := machine.Call(ctx, stage, env, queues); err != nil {
				return errors.Wrap(err, "stage %s", stage.Name)
			}
			return nil
		})
	}
	return group.Wait()
}
