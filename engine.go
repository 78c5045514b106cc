// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package ptqdm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"vawter.tech/ptqdm/pool"
	"vawter.tech/ptqdm/progress"
)

// A Callable is the function applied by [Map]. Both [pool.Func] and
// [*pool.Task] are Callables; only a Task may be used with
// [ModeProcess].
type Callable[T, R any] interface {
	Call(ctx context.Context, arg T) (R, error)
}

// Map applies fn to every element of src using the workers described
// by cfg, reporting progress as results are consumed.
//
// The Config is validated before Map returns; a [*ConfigError] means
// that no worker was started and fn was never called. Nothing else
// happens until the returned sequence is iterated: the pool is created
// and the progress bar is drawn on the first iteration, and both are
// torn down when iteration ends for any reason.
//
// At most one non-nil error is yielded, and it is always the final
// element. A [*WorkerError] reports the first failing item; by the time
// it is yielded the pool has been released and the progress bar closed.
// A [*TeardownError] is yielded only if everything else succeeded. The
// sequence may be iterated only once.
func Map[T, R any](
	ctx context.Context, fn Callable[T, R], src Source[T], cfg Config,
) (iter.Seq2[R, error], error) {
	res, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, &ConfigError{Field: "fn", Err: errors.New("nil function")}
	}
	if f, ok := fn.(pool.Func[T, R]); ok && f == nil {
		return nil, &ConfigError{Field: "fn", Err: errors.New("nil function")}
	}
	task, isTask := fn.(*pool.Task[T, R])
	if res.mode == ModeProcess && (!isTask || task == nil) {
		return nil, &ConfigError{
			Field: "Mode",
			Err:   fmt.Errorf("process mode requires a registered task, not %T", fn),
		}
	}

	total := int64(-1)
	if res.total != nil {
		total = int64(*res.total)
	} else if n, ok := src.Len(); ok {
		total = int64(n)
	}

	log := res.log.With().
		Str("run", uuid.NewString()).
		Str("mode", string(res.mode)).
		Int("workers", res.workers).
		Bool("ordered", res.ordered).
		Logger()

	var used atomic.Bool
	return func(yield func(R, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(*new(R), ErrConsumed)
			return
		}

		p, err := newPool(ctx, fn, task, res, log)
		if err != nil {
			log.Warn().Err(err).Msg("could not start pool")
			yield(*new(R), err)
			return
		}
		log.Debug().Int64("total", total).Msg("map started")

		var stream iter.Seq2[R, error]
		if res.ordered {
			stream = p.SubmitOrdered(ctx, src.All())
		} else {
			stream = p.SubmitUnordered(ctx, src.All())
		}

		bar := progress.New(total, res.progress...)
		progress.WrapErr(guard(stream, p, log), bar)(yield)

		log.Debug().Int64("count", bar.Count()).Msg("map finished")
	}, nil
}

// newPool starts the workers for a single call to Map.
func newPool[T, R any](
	ctx context.Context, fn Callable[T, R], task *pool.Task[T, R], res *resolved, log zerolog.Logger,
) (pool.Pool[T, R], error) {
	opts := res.poolOptions(log)
	switch res.mode {
	case ModeProcess:
		return pool.NewProcesses(ctx, res.workers, task, opts...)
	case ModeThread:
		return pool.NewThreads[T, R](res.workers, fn.Call, opts...)
	case ModeSequential:
		return pool.NewInline[T, R](fn.Call, opts...)
	default:
		// Unreachable once the Config has been validated.
		return nil, &ConfigError{Field: "Mode", Err: fmt.Errorf("unknown mode %q", res.mode)}
	}
}

// guard owns the pool's lifetime. The pool is released before a
// failure is passed along, so that the failure is the last thing the
// consumer sees. A teardown failure is reported only after a clean run;
// otherwise it is logged so that it cannot mask the original problem.
func guard[T, R any](stream iter.Seq2[R, error], p pool.Pool[T, R], log zerolog.Logger) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		released := false
		release := func() error {
			if released {
				return nil
			}
			released = true
			if err := p.Release(); err != nil {
				return &TeardownError{Err: err}
			}
			return nil
		}
		defer func() {
			if err := release(); err != nil {
				log.Warn().Err(err).Msg("pool teardown failed after early exit")
			}
		}()

		for v, err := range stream {
			if err != nil {
				if tErr := release(); tErr != nil {
					log.Warn().Err(tErr).Msg("pool teardown failed after worker failure")
				}
				yield(v, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}

		if err := release(); err != nil {
			yield(*new(R), err)
		}
	}
}
