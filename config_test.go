// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package ptqdm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"vawter.tech/ptqdm/pool"
)

func withCPUs(t *testing.T, n int) {
	t.Helper()
	prev := cpuCount
	cpuCount = func() int { return n }
	t.Cleanup(func() { cpuCount = prev })
}

func TestWorkerResolution(t *testing.T) {
	withCPUs(t, 8)

	tcs := []struct {
		name   string
		cfg    Config
		expect int
	}{
		{"default", Config{Mode: ModeThread}, 8},
		{"absolute", Config{Mode: ModeThread, Workers: 3}, 3},
		{"half", Config{Mode: ModeThread, WorkerFraction: 0.5}, 4},
		{"oversubscribed", Config{Mode: ModeProcess, WorkerFraction: 2}, 16},
		{"tiny fraction", Config{Mode: ModeThread, WorkerFraction: 0.01}, 1},
		{"ties to even", Config{Mode: ModeThread, WorkerFraction: 0.3125}, 2},
		{"sequential", Config{Mode: ModeSequential, Workers: 12}, 1},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)
			res, err := tc.cfg.resolve()
			r.NoError(err)
			r.Equal(tc.expect, res.workers)
		})
	}
}

func TestConfigErrors(t *testing.T) {
	negative := -1

	tcs := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"bogus mode", Config{Mode: "bogus"}, "Mode"},
		{"missing mode", Config{}, "Mode"},
		{"negative workers", Config{Mode: ModeThread, Workers: -1}, "Workers"},
		{"negative fraction", Config{Mode: ModeThread, WorkerFraction: -0.5}, "WorkerFraction"},
		{"both counts", Config{Mode: ModeThread, Workers: 2, WorkerFraction: 0.5}, "Workers"},
		{"negative total", Config{Mode: ModeThread, Total: &negative}, "Total"},
		{"negative rate", Config{Mode: ModeThread, RateLimit: -1}, "RateLimit"},
		{"negative grace", Config{Mode: ModeProcess, GracePeriod: -time.Second}, "GracePeriod"},
		{"malformed env", Config{Mode: ModeProcess, WorkerEnv: []string{"A=1", "NOPE"}}, "WorkerEnv[1]"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)

			var calls atomic.Int32
			fn := pool.Func[int, int](func(_ context.Context, x int) (int, error) {
				calls.Add(1)
				return x, nil
			})
			seq, err := Map[int, int](t.Context(), fn, Slice([]int{1, 2, 3}), tc.cfg)
			r.Nil(seq)
			r.ErrorIs(err, ErrInvalidConfig)

			var cfgErr *ConfigError
			r.ErrorAs(err, &cfgErr)
			r.Equal(tc.field, cfgErr.Field)
			r.Zero(calls.Load())
		})
	}
}

func TestProcessModeRequiresTask(t *testing.T) {
	r := require.New(t)

	fn := pool.Func[int, int](func(_ context.Context, x int) (int, error) { return x, nil })
	_, err := Map[int, int](t.Context(), fn, Slice([]int{1}), Config{Mode: ModeProcess})
	r.ErrorIs(err, ErrInvalidConfig)
	r.ErrorContains(err, "registered task")

	_, err = PIMap[int, int](t.Context(), nil, Slice([]int{1}))
	r.ErrorIs(err, ErrInvalidConfig)

	_, err = TIMap[int, int](t.Context(), nil, Slice([]int{1}))
	r.ErrorIs(err, ErrInvalidConfig)
}

func TestParseMode(t *testing.T) {
	r := require.New(t)

	m, err := ParseMode(" Process ")
	r.NoError(err)
	r.Equal(ModeProcess, m)

	_, err = ParseMode("fibers")
	r.ErrorIs(err, ErrInvalidConfig)
}

func TestOptions(t *testing.T) {
	r := require.New(t)

	cfg := Config{Mode: ModeThread}.Apply(WithWorkers(3), WithWorkerFraction(0.5), WithTotal(7))
	r.Zero(cfg.Workers)
	r.Equal(0.5, cfg.WorkerFraction)
	r.Equal(7, *cfg.Total)

	cfg = cfg.Apply(WithWorkers(2), WithRateLimit(10, 2))
	r.Equal(2, cfg.Workers)
	r.Zero(cfg.WorkerFraction)
	r.Equal(10.0, cfg.RateLimit)
	r.Equal(2, cfg.RateBurst)

	cfg = cfg.Apply(WithGracePeriod(time.Second), WithWorkerEnv("A=1"), WithWorkerEnv("B=2"))
	r.Equal(time.Second, cfg.GracePeriod)
	r.Equal([]string{"A=1", "B=2"}, cfg.WorkerEnv)
	res, err := cfg.resolve()
	r.NoError(err)
	r.Equal(time.Second, res.grace)
	r.Equal([]string{"A=1", "B=2"}, res.env)
}
