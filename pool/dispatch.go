// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime/trace"
	"sync"

	"golang.org/x/sync/errgroup"
	"vawter.tech/ptqdm/internal/workgroup"
)

// core implements submission and release for the pools that own a
// fixed set of worker slots.
type core[T, R any] struct {
	backend string
	closers []func() error // Called concurrently by Release.
	execs   []executor[T, R]
	opts    *options

	mu struct {
		sync.Mutex
		active   *run[T, R]
		released bool
	}
}

func newCore[T, R any](
	backend string, execs []executor[T, R], closers []func() error, o *options,
) *core[T, R] {
	o.log = o.log.With().Str("backend", backend).Logger()
	o.metrics.workers(backend, len(execs))
	return &core[T, R]{
		backend: backend,
		closers: closers,
		execs:   execs,
		opts:    o,
	}
}

// Release implements [Pool].
func (c *core[T, R]) Release() error {
	c.mu.Lock()
	if c.mu.released {
		c.mu.Unlock()
		return nil
	}
	c.mu.released = true
	active := c.mu.active
	c.mu.Unlock()

	var errs []error
	if active != nil {
		errs = append(errs, active.stop())
	}

	closeErrs := make([]error, len(c.closers))
	var eg errgroup.Group
	for i, closer := range c.closers {
		eg.Go(func() error {
			closeErrs[i] = closer()
			return nil
		})
	}
	_ = eg.Wait()
	errs = append(errs, closeErrs...)

	c.opts.metrics.workers(c.backend, -len(c.execs))
	err := errors.Join(errs...)
	if err != nil {
		c.opts.log.Warn().Err(err).Msg("pool release failed")
	} else {
		c.opts.log.Debug().Int("workers", len(c.execs)).Msg("pool released")
	}
	return err
}

// Size implements [Pool].
func (c *core[T, R]) Size() int { return len(c.execs) }

// SubmitOrdered implements [Pool].
func (c *core[T, R]) SubmitOrdered(ctx context.Context, items iter.Seq[T]) iter.Seq2[R, error] {
	return c.submit(ctx, items, true)
}

// SubmitUnordered implements [Pool].
func (c *core[T, R]) SubmitUnordered(ctx context.Context, items iter.Seq[T]) iter.Seq2[R, error] {
	return c.submit(ctx, items, false)
}

func (c *core[T, R]) submit(ctx context.Context, items iter.Seq[T], ordered bool) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		r, err := c.start(ctx, items, ordered)
		if err != nil {
			yield(*new(R), err)
			return
		}
		// Guarantees that workers have exited on every path out.
		defer func() { _ = r.stop() }()

		if ordered {
			r.yieldOrdered(yield)
		} else {
			r.yieldUnordered(yield)
		}
	}
}

// start launches one worker goroutine per slot.
func (c *core[T, R]) start(ctx context.Context, items iter.Seq[T], ordered bool) (*run[T, R], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mu.released {
		return nil, ErrReleased
	}
	if c.mu.active != nil {
		return nil, ErrBusy
	}

	next, stopPull := iter.Pull(items)
	r := &run[T, R]{
		core:     c,
		group:    workgroup.New(ctx, "ptqdm."+c.backend, c.opts.rec),
		next:     next,
		parent:   ctx,
		stopPull: stopPull,
	}
	if ordered {
		r.ordered = make(chan (<-chan result[R]), len(c.execs))
		r.group.Defer(func() error {
			close(r.ordered)
			return nil
		})
	} else {
		r.unordered = make(chan result[R], len(c.execs))
		r.group.Defer(func() error {
			close(r.unordered)
			return nil
		})
	}
	r.abandoned = make(chan struct{})
	r.failed = make(chan struct{})

	for _, e := range c.execs {
		// Go fails only if the parent context is already canceled,
		// which is reported once the run finishes.
		_ = r.group.Go(func(ctx context.Context) error {
			return r.work(ctx, e)
		})
	}
	r.group.StopOnIdle()
	c.mu.active = r

	c.opts.log.Debug().
		Int("workers", len(c.execs)).
		Bool("ordered", ordered).
		Msg("submission started")
	return r, nil
}

// finished is called once a run has stopped.
func (c *core[T, R]) finished(r *run[T, R]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mu.active == r {
		c.mu.active = nil
	}
}

// A run is a single submission.
type run[T, R any] struct {
	core   *core[T, R]
	group  *workgroup.Group
	parent context.Context

	// Exactly one of these is non-nil.
	ordered   chan (<-chan result[R])
	unordered chan result[R]

	// abandoned is closed once the consumer will read no more results.
	abandoned chan struct{}
	// failed is closed once firstErr has been set.
	failed     chan struct{}
	failOnce   sync.Once
	firstErr   error
	stopOnce   sync.Once
	stopResult error

	pullMu    sync.Mutex
	exhausted bool
	idx       int
	next      func() (T, bool)
	stopPull  func()
}

// fail records the first failure and stops further dispatch.
func (r *run[T, R]) fail(err error) {
	r.failOnce.Do(func() {
		r.firstErr = err
		close(r.failed)
	})
	r.group.Stop()
}

// finish reports any error that prevented the input from being
// exhausted, once all workers have exited.
func (r *run[T, R]) finish(yield func(R, error) bool) {
	err := r.stop()
	if err == nil && !r.exhausted {
		err = context.Cause(r.parent)
	}
	if err != nil {
		yield(*new(R), err)
	}
}

func (r *run[T, R]) isExhausted() bool {
	r.pullMu.Lock()
	defer r.pullMu.Unlock()
	return r.exhausted
}

// pull takes the next item from the input. In ordered mode, the reply
// channel is queued while the lock is held so that queue order matches
// input order. If the consumer stops, the queue may never drain, so the
// stopping channel is needed to avoid blocking forever.
func (r *run[T, R]) pull(reply chan result[R]) (WorkItem[T], bool) {
	r.pullMu.Lock()
	defer r.pullMu.Unlock()

	if r.exhausted || r.group.IsStopping() {
		return WorkItem[T]{}, false
	}
	arg, ok := r.next()
	if !ok {
		r.exhausted = true
		return WorkItem[T]{}, false
	}
	item := WorkItem[T]{Index: r.idx, Arg: arg}
	r.idx++

	if reply != nil {
		select {
		case r.ordered <- reply:
		case <-r.group.Stopping():
			return WorkItem[T]{}, false
		}
	}
	return item, true
}

// stop abandons any undelivered results, halts dispatch, waits for the
// workers to exit, and releases the input sequence. It is idempotent.
func (r *run[T, R]) stop() error {
	r.stopOnce.Do(func() {
		close(r.abandoned)
		r.group.Stop()
		r.stopResult = r.group.Wait()

		r.pullMu.Lock()
		r.stopPull()
		r.pullMu.Unlock()

		r.core.finished(r)
	})
	return r.stopResult
}

// work is the loop executed by each worker goroutine.
func (r *run[T, R]) work(ctx context.Context, e executor[T, R]) error {
	o := r.core.opts
	for {
		if r.group.IsStopping() || r.isExhausted() {
			return nil
		}
		if o.limiter != nil {
			region := trace.StartRegion(ctx, "rate limit wait")
			err := o.limiter.Wait(r.group.StoppingContext())
			region.End()
			if err != nil {
				// Silent exit during a stop; report anything else.
				if errors.Is(err, workgroup.ErrStopped) {
					return nil
				}
				return fmt.Errorf("rate limit: %w", err)
			}
		}

		var reply chan result[R]
		if r.ordered != nil {
			reply = make(chan result[R], 1)
		}
		item, ok := r.pull(reply)
		if !ok {
			return nil
		}

		res := invoke(ctx, o, r.core.backend, e, item)
		if res.Err != nil {
			r.fail(res.Err)
		}

		if reply != nil {
			// Buffered, and the consumer is guaranteed to read it.
			reply <- res
			continue
		}
		if res.Err != nil {
			// Delivered through the failed channel.
			continue
		}
		// A completed result is kept even after a failure, since the
		// consumer drains the channel before reporting it.
		select {
		case r.unordered <- res:
		case <-r.abandoned:
			return nil
		}
	}
}

// yieldOrdered drains the queue of reply channels in input order.
func (r *run[T, R]) yieldOrdered(yield func(R, error) bool) {
	// This channel is guaranteed to be closed by a deferred callback.
	for reply := range r.ordered {
		region := trace.StartRegion(r.group.Context(), "ordered wait")
		res := <-reply
		region.End()

		if res.Err != nil {
			// Items before this one have already been yielded.
			_ = r.stop()
			yield(*new(R), res.Err)
			return
		}
		if !yield(res.Result, nil) {
			return
		}
	}
	r.finish(yield)
}

// yieldUnordered drains results in completion order. Once a failure
// is observed, dispatch stops and every result that completed is
// yielded before the failure itself.
func (r *run[T, R]) yieldUnordered(yield func(R, error) bool) {
	for {
		select {
		case res, ok := <-r.unordered:
			if !ok {
				// A failure may race with the final close.
				select {
				case <-r.failed:
					_ = r.stop()
					yield(*new(R), r.firstErr)
				default:
					r.finish(yield)
				}
				return
			}
			if !yield(res.Result, nil) {
				return
			}

		case <-r.failed:
			// Closed once the in-flight items have finished.
			for res := range r.unordered {
				if !yield(res.Result, nil) {
					return
				}
			}
			_ = r.stop()
			yield(*new(R), r.firstErr)
			return
		}
	}
}
