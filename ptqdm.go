// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package ptqdm

import (
	"context"
	"iter"

	"vawter.tech/ptqdm/pool"
)

// PIMap applies a registered task in child processes and yields the
// results in input order.
func PIMap[T, R any](
	ctx context.Context, task *pool.Task[T, R], src Source[T], opts ...Option,
) (iter.Seq2[R, error], error) {
	return Map[T, R](ctx, task, src, Config{Mode: ModeProcess, Ordered: true}.Apply(opts...))
}

// PMap collects the results of [PIMap].
func PMap[T, R any](
	ctx context.Context, task *pool.Task[T, R], src Source[T], opts ...Option,
) ([]R, error) {
	return Collect(PIMap(ctx, task, src, opts...))
}

// PUIMap applies a registered task in child processes and yields the
// results as they complete.
func PUIMap[T, R any](
	ctx context.Context, task *pool.Task[T, R], src Source[T], opts ...Option,
) (iter.Seq2[R, error], error) {
	return Map[T, R](ctx, task, src, Config{Mode: ModeProcess}.Apply(opts...))
}

// PUMap collects the results of [PUIMap].
func PUMap[T, R any](
	ctx context.Context, task *pool.Task[T, R], src Source[T], opts ...Option,
) ([]R, error) {
	return Collect(PUIMap(ctx, task, src, opts...))
}

// TIMap applies fn in worker goroutines and yields the results in input
// order.
func TIMap[T, R any](
	ctx context.Context, fn pool.Func[T, R], src Source[T], opts ...Option,
) (iter.Seq2[R, error], error) {
	return Map[T, R](ctx, fn, src, Config{Mode: ModeThread, Ordered: true}.Apply(opts...))
}

// TMap collects the results of [TIMap].
func TMap[T, R any](
	ctx context.Context, fn pool.Func[T, R], src Source[T], opts ...Option,
) ([]R, error) {
	return Collect(TIMap(ctx, fn, src, opts...))
}

// TUIMap applies fn in worker goroutines and yields the results as they
// complete.
func TUIMap[T, R any](
	ctx context.Context, fn pool.Func[T, R], src Source[T], opts ...Option,
) (iter.Seq2[R, error], error) {
	return Map[T, R](ctx, fn, src, Config{Mode: ModeThread}.Apply(opts...))
}

// TUMap collects the results of [TUIMap].
func TUMap[T, R any](
	ctx context.Context, fn pool.Func[T, R], src Source[T], opts ...Option,
) ([]R, error) {
	return Collect(TUIMap(ctx, fn, src, opts...))
}

// SIMap applies fn in the consuming goroutine, one element at a time.
// Worker options are ignored.
func SIMap[T, R any](
	ctx context.Context, fn pool.Func[T, R], src Source[T], opts ...Option,
) (iter.Seq2[R, error], error) {
	return Map[T, R](ctx, fn, src, Config{Mode: ModeSequential, Ordered: true}.Apply(opts...))
}

// SMap collects the results of [SIMap].
func SMap[T, R any](
	ctx context.Context, fn pool.Func[T, R], src Source[T], opts ...Option,
) ([]R, error) {
	return Collect(SIMap(ctx, fn, src, opts...))
}

// Collect drains a result sequence into a slice. It accepts the return
// values of the iterator functions directly. Results are discarded if
// any error is yielded.
func Collect[R any](seq iter.Seq2[R, error], err error) ([]R, error) {
	if err != nil {
		return nil, err
	}
	var ret []R
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}
	return ret, nil
}
