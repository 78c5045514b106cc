// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"iter"
	"runtime/trace"
	"sync"
)

// Inline is a pool with no workers: the bound function runs in the
// consumer's goroutine, one item at a time, as the result sequence is
// iterated. Completion order is therefore input order.
type Inline[T, R any] struct {
	fn   Func[T, R]
	opts *options

	mu struct {
		sync.Mutex
		active   bool
		released bool
	}
}

var _ Pool[int, int] = (*Inline[int, int])(nil)

// NewInline constructs a sequential pool.
func NewInline[T, R any](fn Func[T, R], opts ...Option) (*Inline[T, R], error) {
	if fn == nil {
		return nil, errNilFunc
	}
	o := newOptions(opts)
	o.log = o.log.With().Str("backend", "inline").Logger()
	return &Inline[T, R]{fn: fn, opts: o}, nil
}

// Release implements [Pool]. There is nothing to free.
func (p *Inline[T, R]) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mu.released = true
	return nil
}

// Size implements [Pool]. It always returns 1.
func (p *Inline[T, R]) Size() int { return 1 }

// SubmitOrdered implements [Pool].
func (p *Inline[T, R]) SubmitOrdered(ctx context.Context, items iter.Seq[T]) iter.Seq2[R, error] {
	return p.submit(ctx, items)
}

// SubmitUnordered implements [Pool]. It is identical to SubmitOrdered.
func (p *Inline[T, R]) SubmitUnordered(ctx context.Context, items iter.Seq[T]) iter.Seq2[R, error] {
	return p.submit(ctx, items)
}

func (p *Inline[T, R]) submit(ctx context.Context, items iter.Seq[T]) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		if err := p.acquire(); err != nil {
			yield(*new(R), err)
			return
		}
		defer p.release()

		ctx, task := trace.NewTask(ctx, "ptqdm.inline")
		defer task.End()

		exec := funcExecutor[T, R](p.fn)
		idx := 0
		for arg := range items {
			if err := context.Cause(ctx); err != nil {
				yield(*new(R), err)
				return
			}
			if p.isReleased() {
				return
			}
			res := invoke(ctx, p.opts, "inline", exec, WorkItem[T]{Index: idx, Arg: arg})
			idx++
			if res.Err != nil {
				yield(*new(R), res.Err)
				return
			}
			if !yield(res.Result, nil) {
				return
			}
		}
	}
}

func (p *Inline[T, R]) acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.mu.released:
		return ErrReleased
	case p.mu.active:
		return ErrBusy
	}
	p.mu.active = true
	return nil
}

func (p *Inline[T, R]) isReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mu.released
}

func (p *Inline[T, R]) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mu.active = false
}
