// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package workgroup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"vawter.tech/ptqdm/internal/safe"
	"vawter.tech/ptqdm/linger"
)

func TestStopOnIdle(t *testing.T) {
	r := require.New(t)

	rec := linger.NewRecorder(4)
	g := New(t.Context(), "test", rec)

	var ran atomic.Int32
	for range 4 {
		r.NoError(g.Go(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	var cleaned atomic.Bool
	r.True(g.Defer(func() error {
		cleaned.Store(true)
		return nil
	}))

	g.StopOnIdle()
	r.NoError(g.Wait())
	r.Equal(int32(4), ran.Load())
	r.True(cleaned.Load())
	r.True(g.IsStopping())
	r.Zero(g.Len())
	r.ErrorIs(context.Cause(g.Context()), ErrStopped)
	linger.CheckClean(t, rec)

	// Late arrivals are rejected or run immediately.
	r.ErrorIs(g.Go(func(context.Context) error { return nil }), ErrStopped)
	var late atomic.Bool
	r.False(g.Defer(func() error {
		late.Store(true)
		return nil
	}))
	r.True(late.Load())
}

func TestStopWaitsForRunning(t *testing.T) {
	r := require.New(t)

	g := New(t.Context(), "test", nil)
	release := make(chan struct{})
	var finished atomic.Bool
	r.NoError(g.Go(func(ctx context.Context) error {
		<-release
		// The context is not canceled by a soft stop.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		finished.Store(true)
		return nil
	}))

	g.Stop()
	select {
	case <-g.Stopping():
	default:
		r.Fail("expected stopping channel to be closed")
	}
	select {
	case <-g.Done():
		r.Fail("should not be done while a goroutine runs")
	case <-time.After(10 * time.Millisecond):
	}

	close(release)
	r.NoError(g.Wait())
	r.True(finished.Load())
}

func TestErrorsAndPanics(t *testing.T) {
	r := require.New(t)

	boom := errors.New("boom")
	g := New(t.Context(), "test", nil)
	r.NoError(g.Go(func(context.Context) error { return boom }))
	r.NoError(g.Go(func(context.Context) error { panic("kaboom") }))
	g.Defer(func() error { return errors.New("deferred") })
	g.StopOnIdle()

	err := g.Wait()
	r.ErrorIs(err, boom)
	r.ErrorContains(err, "kaboom")
	r.ErrorContains(err, "deferred")
	r.True(safe.IsPanic(err))
	r.Len(g.Errors(), 3)
}

func TestDeferredOrder(t *testing.T) {
	r := require.New(t)

	g := New(t.Context(), "test", nil)
	var order []int
	for i := range 3 {
		g.Defer(func() error {
			order = append(order, i)
			return nil
		})
	}
	g.Stop()
	r.NoError(g.Wait())
	r.Equal([]int{2, 1, 0}, order)
}

func TestParentCancel(t *testing.T) {
	r := require.New(t)

	parent, cancel := context.WithCancel(t.Context())
	g := New(parent, "test", nil)
	r.NoError(g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))

	stopping := g.StoppingContext()
	r.NoError(stopping.Err())

	cancel()
	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		r.Fail("timed out")
	}
	r.NoError(g.Wait())
	r.ErrorIs(stopping.Err(), ErrStopped)
	r.ErrorIs(stopping.Err(), context.Canceled)
}

func TestCanceledParent(t *testing.T) {
	r := require.New(t)

	parent, cancel := context.WithCancel(t.Context())
	cancel()
	g := New(parent, "test", nil)

	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		r.Fail("timed out")
	}
	r.ErrorIs(g.Go(func(context.Context) error { return nil }), ErrStopped)
}
