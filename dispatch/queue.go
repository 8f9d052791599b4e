// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// The runtime that pipelined code calls: bounded queues and the
// dispatcher that runs a pipeline's stages.  Everything here is
// installed as builtins in an ir.MachineT.

package dispatch

import (
	"context"
	"fmt"
)

// Names of the entry points generated code calls.

const DispatcherName = "stageDispatcher"

func QueuePushName(width int) string { return fmt.Sprintf("queuePush%d", width) }
func QueuePopName(width int) string  { return fmt.Sprintf("queuePop%d", width) }

// Supported element widths in bits.
var Widths = []int{8, 16, 32, 64}

type ElementT interface {
	~int8 | ~int16 | ~int32 | ~int64
}

// A blocking, bounded FIFO.  Both operations give up if the context
// is cancelled.

type QueueT[E ElementT] struct {
	values chan E
}

func NewQueue[E ElementT](capacity int) *QueueT[E] {
	return &QueueT[E]{values: make(chan E, capacity)}
}

func (queue *QueueT[E]) Push(ctx context.Context, value E) error {
	select {
	case queue.values <- value:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (queue *QueueT[E]) Pop(ctx context.Context) (E, error) {
	select {
	case value := <-queue.values:
		return value, nil
	case <-ctx.Done():
		var zero E
		return zero, ctx.Err()
	}
}

func (queue *QueueT[E]) Len() int {
	return len(queue.values)
}

func (queue *QueueT[E]) Cap() int {
	return cap(queue.values)
}

// Makes a queue for elements of the given width, or returns nil if
// the width isn't supported.

func NewQueueOfWidth(width int, capacity int) any {
	switch width {
	case 8:
		return NewQueue[int8](capacity)
	case 16:
		return NewQueue[int16](capacity)
	case 32:
		return NewQueue[int32](capacity)
	case 64:
		return NewQueue[int64](capacity)
	}
	return nil
}
