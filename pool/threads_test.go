// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"vawter.tech/ptqdm/internal/safe"
	"vawter.tech/ptqdm/linger"
)

// jitter sleeps for a duration that varies with x, so that items
// complete out of order.
func jitter(ctx context.Context, x int) (int, error) {
	select {
	case <-time.After(time.Duration(x%5) * time.Millisecond):
		return x * 2, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// forever yields 0, 1, 2, ... until the consumer stops.
func forever(yield func(int) bool) {
	for i := 0; ; i++ {
		if !yield(i) {
			return
		}
	}
}

func collect[R any](seq iter.Seq2[R, error]) ([]R, error) {
	var ret []R
	for v, err := range seq {
		if err != nil {
			return ret, err
		}
		ret = append(ret, v)
	}
	return ret, nil
}

func newTestThreads(t *testing.T, n int, fn Func[int, int], opts ...Option) (*Threads[int, int], *linger.Recorder) {
	t.Helper()
	rec := linger.NewRecorder(8)
	p, err := NewThreads(n, fn, append(opts, WithRecorder(rec))...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, p.Release())
		linger.CheckClean(t, rec)
	})
	return p, rec
}

func TestThreadsOrdered(t *testing.T) {
	r := require.New(t)
	p, _ := newTestThreads(t, 4, jitter)
	r.Equal(4, p.Size())

	input := make([]int, 50)
	expect := make([]int, 50)
	for i := range input {
		input[i] = 50 - i
		expect[i] = input[i] * 2
	}

	got, err := collect(p.SubmitOrdered(t.Context(), slices.Values(input)))
	r.NoError(err)
	r.Equal(expect, got)

	// Pools are reusable once a submission has finished.
	got, err = collect(p.SubmitOrdered(t.Context(), slices.Values(input[:3])))
	r.NoError(err)
	r.Equal(expect[:3], got)
}

func TestThreadsUnordered(t *testing.T) {
	r := require.New(t)
	p, _ := newTestThreads(t, 4, jitter)

	input := make([]int, 50)
	var expect []int
	for i := range input {
		input[i] = i
		expect = append(expect, i*2)
	}

	got, err := collect(p.SubmitUnordered(t.Context(), slices.Values(input)))
	r.NoError(err)
	r.ElementsMatch(expect, got)
}

func TestThreadsEmpty(t *testing.T) {
	r := require.New(t)
	var calls atomic.Int32
	p, _ := newTestThreads(t, 3, func(context.Context, int) (int, error) {
		calls.Add(1)
		return 0, nil
	})

	for _, seq := range []iter.Seq2[int, error]{
		p.SubmitOrdered(t.Context(), slices.Values([]int(nil))),
		p.SubmitUnordered(t.Context(), slices.Values([]int(nil))),
	} {
		got, err := collect(seq)
		r.NoError(err)
		r.Empty(got)
	}
	r.Zero(calls.Load())
}

func TestThreadsOrderedFailure(t *testing.T) {
	r := require.New(t)
	boom := errors.New("boom")
	var calls atomic.Int32
	p, _ := newTestThreads(t, 1, func(_ context.Context, x int) (int, error) {
		calls.Add(1)
		if x == 2 {
			return 0, boom
		}
		return x, nil
	})

	got, err := collect(p.SubmitOrdered(t.Context(), slices.Values([]int{0, 1, 2, 3, 4})))
	r.Equal([]int{0, 1}, got)
	r.ErrorIs(err, boom)

	var workerErr *WorkerError
	r.ErrorAs(err, &workerErr)
	r.Equal(2, workerErr.Index)
	r.Equal("item 2: boom", err.Error())

	// A single worker stops pulling after the failure.
	r.Equal(int32(3), calls.Load())
}

func TestThreadsUnorderedFailure(t *testing.T) {
	r := require.New(t)
	boom := errors.New("boom")
	var succeeded atomic.Int32
	p, _ := newTestThreads(t, 4, func(_ context.Context, x int) (int, error) {
		if x == 7 {
			return 0, boom
		}
		succeeded.Add(1)
		return x, nil
	})

	input := make([]int, 20)
	for i := range input {
		input[i] = i
	}
	var got []int
	var sawErr error
	for v, err := range p.SubmitUnordered(t.Context(), slices.Values(input)) {
		r.NoError(sawErr, "element yielded after failure")
		if err != nil {
			sawErr = err
			continue
		}
		got = append(got, v)
	}
	r.ErrorIs(sawErr, boom)
	r.NotContains(got, 7)
	r.Less(len(got), 20)
	// Every item that completed is delivered.
	r.Len(got, int(succeeded.Load()))
}

func TestThreadsUnorderedFailureSlowConsumer(t *testing.T) {
	r := require.New(t)
	boom := errors.New("boom")
	var succeeded atomic.Int32
	p, _ := newTestThreads(t, 2, func(_ context.Context, x int) (int, error) {
		if x == 3 {
			time.Sleep(50 * time.Millisecond)
			return 0, boom
		}
		succeeded.Add(1)
		return x, nil
	})

	input := make([]int, 20)
	for i := range input {
		input[i] = i
	}
	var got []int
	var sawErr error
	for v, err := range p.SubmitUnordered(t.Context(), slices.Values(input)) {
		if err != nil {
			sawErr = err
			break
		}
		if len(got) == 0 {
			// The other worker fills the buffer and blocks while the
			// failure happens.
			time.Sleep(200 * time.Millisecond)
		}
		got = append(got, v)
	}
	r.ErrorIs(sawErr, boom)
	r.NotContains(got, 3)
	r.Len(got, int(succeeded.Load()))
	r.GreaterOrEqual(len(got), 3)
}

func TestThreadsPanic(t *testing.T) {
	r := require.New(t)
	p, _ := newTestThreads(t, 2, func(_ context.Context, x int) (int, error) {
		if x == 1 {
			panic("kaboom")
		}
		return x, nil
	})

	got, err := collect(p.SubmitOrdered(t.Context(), slices.Values([]int{0, 1, 2})))
	r.Equal([]int{0}, got)
	r.ErrorContains(err, "kaboom")
	r.True(safe.IsPanic(err))
}

func TestThreadsEarlyBreak(t *testing.T) {
	for _, ordered := range []bool{true, false} {
		t.Run(map[bool]string{true: "ordered", false: "unordered"}[ordered], func(t *testing.T) {
			r := require.New(t)
			var calls atomic.Int32
			p, rec := newTestThreads(t, 4, func(ctx context.Context, x int) (int, error) {
				calls.Add(1)
				return jitter(ctx, x)
			})

			seq := p.SubmitUnordered(t.Context(), forever)
			if ordered {
				seq = p.SubmitOrdered(t.Context(), forever)
			}
			seen := 0
			for _, err := range seq {
				r.NoError(err)
				seen++
				if seen == 2 {
					break
				}
			}
			r.Equal(2, seen)

			// Workers have exited by the time the loop is done.
			r.Zero(rec.Len())
			before := calls.Load()
			time.Sleep(20 * time.Millisecond)
			r.Equal(before, calls.Load())
		})
	}
}

func TestThreadsContextCancel(t *testing.T) {
	r := require.New(t)
	p, _ := newTestThreads(t, 3, jitter)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	seen := 0
	var sawErr error
	for _, err := range p.SubmitOrdered(ctx, forever) {
		if err != nil {
			sawErr = err
			break
		}
		seen++
		if seen == 3 {
			cancel()
		}
	}
	r.ErrorIs(sawErr, context.Canceled)
	r.GreaterOrEqual(seen, 3)
}

func TestThreadsBusyAndReleased(t *testing.T) {
	r := require.New(t)
	p, _ := newTestThreads(t, 2, jitter)

	next, stop := iter.Pull2(p.SubmitOrdered(t.Context(), forever))
	_, err, ok := next()
	r.True(ok)
	r.NoError(err)

	_, err = collect(p.SubmitOrdered(t.Context(), forever))
	r.ErrorIs(err, ErrBusy)

	// Release stops the active submission.
	r.NoError(p.Release())
	r.NoError(p.Release())
	stop()

	_, err = collect(p.SubmitUnordered(t.Context(), forever))
	r.ErrorIs(err, ErrReleased)
}

func TestThreadsRateLimit(t *testing.T) {
	r := require.New(t)
	p, _ := newTestThreads(t, 4, func(_ context.Context, x int) (int, error) {
		return x, nil
	}, WithRateLimit(20, 1))

	start := time.Now()
	got, err := collect(p.SubmitOrdered(t.Context(), slices.Values([]int{0, 1, 2, 3, 4})))
	r.NoError(err)
	r.Equal([]int{0, 1, 2, 3, 4}, got)
	// The first token is available immediately; the rest arrive every 50ms.
	r.GreaterOrEqual(time.Since(start), 150*time.Millisecond)
}

func TestThreadsMetrics(t *testing.T) {
	r := require.New(t)
	reg := prometheus.NewPedanticRegistry()
	m, err := NewMetrics(reg, "test")
	r.NoError(err)

	_, err = NewMetrics(reg, "test")
	r.Error(err, "duplicate registration")

	p, err := NewThreads(3, func(_ context.Context, x int) (int, error) {
		if x == 9 {
			return 0, errors.New("nine")
		}
		return x, nil
	}, WithMetrics(m))
	r.NoError(err)
	r.Equal(3.0, testutil.ToFloat64(m.Workers.WithLabelValues("thread")))

	_, err = collect(p.SubmitOrdered(t.Context(), slices.Values([]int{0, 1, 2, 3, 4, 5})))
	r.NoError(err)
	r.Equal(6.0, testutil.ToFloat64(m.Completed.WithLabelValues("thread")))
	r.Equal(6.0, testutil.ToFloat64(m.Dispatched.WithLabelValues("thread")))
	r.Zero(testutil.ToFloat64(m.Busy.WithLabelValues("thread")))

	_, err = collect(p.SubmitOrdered(t.Context(), slices.Values([]int{9})))
	r.Error(err)
	r.Equal(1.0, testutil.ToFloat64(m.Failed.WithLabelValues("thread")))

	r.NoError(p.Release())
	r.Zero(testutil.ToFloat64(m.Workers.WithLabelValues("thread")))
}

func TestNewThreadsErrors(t *testing.T) {
	r := require.New(t)

	_, err := NewThreads(0, jitter)
	r.ErrorContains(err, "must be positive")

	_, err = NewThreads[int, int](1, nil)
	r.ErrorIs(err, errNilFunc)
}
