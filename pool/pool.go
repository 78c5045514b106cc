// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"iter"

	"vawter.tech/ptqdm/internal/safe"
)

// A Pool applies a function, bound when the pool is constructed, to
// every element of an input sequence.
//
// A Pool supports one active submission at a time. The returned
// sequences are single-use. Abandoning a sequence early stops dispatch
// and waits for any items that are already running.
type Pool[T, R any] interface {
	// SubmitOrdered yields results strictly in input order.
	SubmitOrdered(ctx context.Context, items iter.Seq[T]) iter.Seq2[R, error]
	// SubmitUnordered yields results in completion order.
	SubmitUnordered(ctx context.Context, items iter.Seq[T]) iter.Seq2[R, error]
	// Release stops any active submission and frees the workers. It
	// is safe to call more than once; only the first call does work.
	Release() error
	// Size returns the number of workers.
	Size() int
}

// Func adapts an ordinary function to the Call method expected by
// callers that accept either a function or a [*Task].
type Func[T, R any] func(ctx context.Context, arg T) (R, error)

// Call invokes the function.
func (f Func[T, R]) Call(ctx context.Context, arg T) (R, error) {
	return f(ctx, arg)
}

// A WorkItem is one element of the input and its position.
type WorkItem[T any] struct {
	Index int
	Arg   T
}

type result[R any] struct {
	Err    error
	Result R
}

// An executor runs items for a single worker slot. A Threads pool
// shares one executor across its slots, while each slot of a Processes
// pool owns a child process.
type executor[T, R any] interface {
	exec(ctx context.Context, item WorkItem[T]) (R, error)
}

// funcExecutor runs the function in the calling goroutine.
type funcExecutor[T, R any] Func[T, R]

func (f funcExecutor[T, R]) exec(ctx context.Context, item WorkItem[T]) (R, error) {
	return f(ctx, item.Arg)
}

var errNilFunc = errors.New("nil function")

// invoke runs a single item through an executor, recovering panics
// and recording metrics. A failure is wrapped in a WorkerError.
func invoke[T, R any](
	ctx context.Context, o *options, backend string, e executor[T, R], item WorkItem[T],
) result[R] {
	finished := o.metrics.started(backend)
	ret, err := safe.Apply(func(item WorkItem[T]) (R, error) {
		return e.exec(ctx, item)
	}, item)
	finished(err)
	if err != nil {
		o.log.Debug().Err(err).Int("index", item.Index).Msg("item failed")
		return result[R]{Err: &WorkerError{Index: item.Index, Err: err}}
	}
	return result[R]{Result: ret}
}
