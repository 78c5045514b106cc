// Copyright 2023 The Cockroach Authors
// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package workgroup tracks the goroutines that make up one pool
// submission.
//
// A Group has a two-phase shutdown. A soft stop closes the
// [Group.Stopping] channel and rejects new goroutines; running
// goroutines are never interrupted. Once the last goroutine exits, the
// Group's context is canceled, deferred callbacks run in LIFO order,
// and [Group.Done] is closed.
package workgroup

import (
	"context"
	"errors"
	"runtime/trace"
	"slices"
	"sync"
	"time"

	"vawter.tech/ptqdm/internal/safe"
	"vawter.tech/ptqdm/linger"
)

// ErrStopped is returned from [Group.Go] once the Group is stopping.
// It is also the cancellation cause of the Group's context.
var ErrStopped = errors.New("stopped")

var errCanceledStopped = errors.Join(context.Canceled, ErrStopped)

// A Group tracks a set of goroutines. All methods are safe for
// concurrent use.
type Group struct {
	ctx      context.Context
	done     chan struct{}
	name     string
	rec      *linger.Recorder
	stopping chan struct{}

	mu struct {
		sync.Mutex
		cancel     func() // Invoked once, from hardStopLocked.
		count      int
		deferred   []func() error
		errs       []error
		stopOnIdle bool
		stopping   bool
		unregister func() bool
	}
}

// New constructs a Group whose context is derived from the parent.
// Canceling the parent triggers a soft stop. The Recorder may be nil.
func New(parent context.Context, name string, rec *linger.Recorder) *Group {
	ctx, traceTask := trace.NewTask(parent, name)
	ctx, cancel := context.WithCancelCause(ctx)

	g := &Group{
		ctx:      ctx,
		done:     make(chan struct{}),
		name:     name,
		rec:      rec,
		stopping: make(chan struct{}),
	}
	g.mu.cancel = func() {
		cancel(ErrStopped)
		traceTask.End()
	}

	// Propagate parent cancellation into a soft stop. The callback may
	// fire immediately, so the registration is stored only if the
	// Group has not already finished.
	unregister := context.AfterFunc(parent, g.Stop)
	g.mu.Lock()
	if g.mu.cancel == nil {
		g.mu.Unlock()
		unregister()
	} else {
		g.mu.unregister = unregister
		g.mu.Unlock()
	}
	return g
}

// AddError appends errors to the value returned by [Group.Wait]. Nil
// values are ignored. Calling this method does not stop the Group.
func (g *Group) AddError(errs ...error) {
	if !slices.ContainsFunc(errs, func(err error) bool { return err != nil }) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, err := range errs {
		if err != nil {
			g.mu.errs = append(g.mu.errs, err)
		}
	}
}

// Context returns the context passed to goroutines. It is canceled
// once the Group has fully stopped or the parent is canceled.
func (g *Group) Context() context.Context { return g.ctx }

// Defer registers a callback to run after the Group has stopped and
// all goroutines have exited. If that has already happened, the
// callback runs immediately and false is returned. Errors returned by
// the callback are available from [Group.Wait].
func (g *Group) Defer(fn func() error) (deferred bool) {
	g.mu.Lock()
	if g.mu.cancel != nil {
		g.mu.deferred = append(g.mu.deferred, fn)
		g.mu.Unlock()
		return true
	}
	g.mu.Unlock()

	// We don't execute user code while holding the mutex.
	g.AddError(safe.CallE(fn))
	return false
}

// Done is closed after the Group has stopped, all goroutines have
// exited, and all deferred callbacks have returned.
func (g *Group) Done() <-chan struct{} { return g.done }

// Errors returns a copy of the accumulated errors.
func (g *Group) Errors() []error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.mu.errs)
}

// Go starts the function in a new goroutine. A panic or non-nil error
// from the function is recorded for [Group.Wait]. If the Group is
// stopping, [ErrStopped] is returned and the function is not run.
func (g *Group) Go(fn func(ctx context.Context) error) error {
	if !g.apply(1) {
		return ErrStopped
	}
	release := g.rec.Track("worker")
	go func() {
		// Deferred calls run LIFO, so the recorder is cleared before
		// the count that gates Done.
		defer g.apply(-1)
		defer release()

		ctx, task := trace.NewTask(g.ctx, g.name+".worker")
		defer task.End()
		g.AddError(safe.CallE(func() error { return fn(ctx) }))
	}()
	return nil
}

// IsStopping returns true once a soft stop has begun.
func (g *Group) IsStopping() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mu.stopping
}

// Len returns the number of running goroutines.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mu.count
}

// Stop begins a soft stop. It does not wait for goroutines to exit.
func (g *Group) Stop() {
	var finish func()
	defer func() { runFinish(finish) }()

	g.mu.Lock()
	defer g.mu.Unlock()
	finish = g.softStopLocked()
}

// StopOnIdle arranges for a soft stop once no goroutines are running.
func (g *Group) StopOnIdle() {
	var finish func()
	defer func() { runFinish(finish) }()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.mu.stopOnIdle = true
	if g.mu.count == 0 {
		finish = g.softStopLocked()
	}
}

// Stopping returns a channel that is closed when a soft stop begins.
func (g *Group) Stopping() <-chan struct{} { return g.stopping }

// StoppingContext adapts the soft-stop signal into a context, for use
// with APIs such as [golang.org/x/time/rate.Limiter.Wait]. Its Err
// method returns an error that is both [context.Canceled] and
// [ErrStopped] once the Group is stopping.
func (g *Group) StoppingContext() context.Context {
	return (*stoppingCtx)(g)
}

// Wait blocks until the Group is done and returns the joined errors.
func (g *Group) Wait() error {
	<-g.done
	return errors.Join(g.Errors()...)
}

// apply maintains the count of running goroutines. It returns false if
// the Group is stopping and the delta would start new work.
func (g *Group) apply(delta int) bool {
	var finish func()
	defer func() { runFinish(finish) }()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.mu.stopping && delta >= 0 {
		return false
	}
	g.mu.count += delta
	if g.mu.count < 0 {
		// Implementation error, not user problem.
		panic("over-released")
	}
	if g.mu.count == 0 {
		if g.mu.stopOnIdle || g.mu.stopping {
			finish = g.softStopLocked()
		}
	}
	return true
}

// hardStopLocked is a one-shot that returns the function which cancels
// the context, runs deferred callbacks, and closes the done channel.
// The returned function must be called without holding the mutex.
func (g *Group) hardStopLocked() (finish func()) {
	cancel := g.mu.cancel
	if cancel == nil {
		return nil
	}
	g.mu.cancel = nil
	unregister := g.mu.unregister
	g.mu.unregister = nil
	deferred := g.mu.deferred
	g.mu.deferred = nil

	return func() {
		if unregister != nil {
			unregister()
		}
		cancel()
		for i := len(deferred) - 1; i >= 0; i-- {
			g.AddError(safe.CallE(deferred[i]))
		}
		close(g.done)
	}
}

// softStopLocked closes the stopping channel on first use and
// hard-stops the Group if nothing is running.
func (g *Group) softStopLocked() (finish func()) {
	if !g.mu.stopping {
		g.mu.stopping = true
		close(g.stopping)
	}
	if g.mu.count == 0 {
		return g.hardStopLocked()
	}
	return nil
}

func runFinish(finish func()) {
	if finish != nil {
		finish()
	}
}

// stoppingCtx just swizzles the method set.
type stoppingCtx Group

var _ context.Context = (*stoppingCtx)(nil)

func (c *stoppingCtx) Deadline() (deadline time.Time, ok bool) {
	return (*Group)(c).ctx.Deadline()
}

func (c *stoppingCtx) Done() <-chan struct{} {
	return (*Group)(c).Stopping()
}

func (c *stoppingCtx) Err() error {
	g := (*Group)(c)
	if g.IsStopping() {
		return errCanceledStopped
	}
	return g.ctx.Err()
}

func (c *stoppingCtx) Value(key any) any {
	return (*Group)(c).ctx.Value(key)
}
