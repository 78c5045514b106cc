// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"vawter.tech/ptqdm/linger"
)

const defaultGracePeriod = 5 * time.Second

// An Option configures a pool.
type Option func(o *options)

type options struct {
	env         []string
	gracePeriod time.Duration
	limiter     *rate.Limiter
	log         zerolog.Logger
	metrics     *Metrics
	rec         *linger.Recorder
}

func newOptions(opts []Option) *options {
	o := &options{
		gracePeriod: defaultGracePeriod,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithEnv appends KEY=VALUE pairs to the environment of child
// processes.
func WithEnv(kv ...string) Option {
	return func(o *options) { o.env = append(o.env, kv...) }
}

// WithGracePeriod sets how long a child process may take to exit after
// its request pipe is closed before it is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.gracePeriod = d
		}
	}
}

// WithLogger attaches a logger. Pools are silent by default.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records pool activity into the collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRateLimit limits how quickly items are dispatched to workers,
// using a token bucket with the given rate (items per second) and
// burst. A non-positive rate disables the limit.
func WithRateLimit(r float64, burst int) Option {
	return func(o *options) {
		if r <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
	}
}

// WithRecorder tracks worker goroutines and child processes so that
// tests can check that nothing outlives the pool.
func WithRecorder(rec *linger.Recorder) Option {
	return func(o *options) { o.rec = rec }
}
