// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package ptqdm

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"vawter.tech/ptqdm/linger"
	"vawter.tech/ptqdm/pool"
	"vawter.tech/ptqdm/progress"
)

// A Mode selects the kind of worker that executes the function.
type Mode string

// The supported execution modes.
const (
	// ModeProcess runs a registered [pool.Task] in child processes.
	ModeProcess Mode = "process"
	// ModeThread runs the function in worker goroutines.
	ModeThread Mode = "thread"
	// ModeSequential runs the function in the consuming goroutine.
	ModeSequential Mode = "sequential"
)

// ParseMode converts a user-supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeProcess, ModeThread, ModeSequential:
		return m, nil
	default:
		return "", &ConfigError{Field: "Mode", Err: fmt.Errorf("unknown mode %q", s)}
	}
}

// Config controls a call to [Map]. The zero value is not usable; at
// least Mode must be set.
type Config struct {
	// Workers is the number of workers. It is mutually exclusive with
	// WorkerFraction. If neither is set, one worker per CPU is used.
	Workers int `validate:"gte=0,excluded_with=WorkerFraction"`
	// WorkerFraction sizes the pool relative to the number of CPUs.
	// The product is rounded to the nearest integer, with ties to even,
	// and is never less than one.
	WorkerFraction float64 `validate:"gte=0"`
	// Total overrides the number of items that the progress bar
	// expects. If nil, the length of the Source is used when known.
	Total *int `validate:"omitempty,gte=0"`
	// Ordered yields results in input order.
	Ordered bool
	// Mode selects the kind of worker.
	Mode Mode `validate:"required,oneof=process thread sequential"`

	// Progress is passed through to [progress.New].
	Progress []progress.Option `validate:"-"`
	// Logger receives debugging output. Nil disables logging.
	Logger *zerolog.Logger `validate:"-"`
	// Metrics records pool activity.
	Metrics *pool.Metrics `validate:"-"`
	// RateLimit limits dispatch to this many items per second, with
	// RateBurst items allowed at once.
	RateLimit float64 `validate:"gte=0"`
	RateBurst int     `validate:"gte=0"`
	// Recorder tracks workers for leak detection in tests.
	Recorder *linger.Recorder `validate:"-"`

	// GracePeriod bounds how long a worker process may take to exit
	// once the pool is released. Zero selects the pool default.
	GracePeriod time.Duration `validate:"gte=0"`
	// WorkerEnv holds KEY=VALUE pairs added to the environment of
	// worker processes.
	WorkerEnv []string `validate:"dive,contains=="`
}

// An Option modifies a Config.
type Option func(cfg *Config)

// Apply returns a copy of the Config with the options applied.
func (c Config) Apply(opts ...Option) Config {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithGracePeriod sets [Config.GracePeriod].
func WithGracePeriod(d time.Duration) Option {
	return func(cfg *Config) { cfg.GracePeriod = d }
}

// WithLogger sets [Config.Logger].
func WithLogger(log zerolog.Logger) Option {
	return func(cfg *Config) { cfg.Logger = &log }
}

// WithMetrics sets [Config.Metrics].
func WithMetrics(m *pool.Metrics) Option {
	return func(cfg *Config) { cfg.Metrics = m }
}

// WithProgress appends options for the progress bar.
func WithProgress(opts ...progress.Option) Option {
	return func(cfg *Config) { cfg.Progress = append(cfg.Progress, opts...) }
}

// WithRateLimit sets [Config.RateLimit] and [Config.RateBurst].
func WithRateLimit(perSecond float64, burst int) Option {
	return func(cfg *Config) {
		cfg.RateLimit = perSecond
		cfg.RateBurst = burst
	}
}

// WithRecorder sets [Config.Recorder].
func WithRecorder(rec *linger.Recorder) Option {
	return func(cfg *Config) { cfg.Recorder = rec }
}

// WithTotal sets [Config.Total].
func WithTotal(n int) Option {
	return func(cfg *Config) { cfg.Total = &n }
}

// WithWorkerFraction sets [Config.WorkerFraction] and clears
// [Config.Workers].
func WithWorkerFraction(f float64) Option {
	return func(cfg *Config) {
		cfg.Workers = 0
		cfg.WorkerFraction = f
	}
}

// WithWorkerEnv appends to [Config.WorkerEnv].
func WithWorkerEnv(kv ...string) Option {
	return func(cfg *Config) { cfg.WorkerEnv = append(cfg.WorkerEnv, kv...) }
}

// WithWorkers sets [Config.Workers] and clears [Config.WorkerFraction].
func WithWorkers(n int) Option {
	return func(cfg *Config) {
		cfg.Workers = n
		cfg.WorkerFraction = 0
	}
}

// cpuCount is replaced by tests.
var cpuCount = runtime.NumCPU

var validate = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// resolved is an immutable, validated Config.
type resolved struct {
	log      zerolog.Logger
	mode     Mode
	ordered  bool
	progress []progress.Option
	total    *int
	workers  int

	env      []string
	grace    time.Duration
	metrics  *pool.Metrics
	rate     float64
	burst    int
	recorder *linger.Recorder
}

// resolve validates the Config and computes the worker count.
func (c *Config) resolve() (*resolved, error) {
	if err := validate().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, &ConfigError{
				Field: fe.Field(),
				Err:   fmt.Errorf("value %v fails %q constraint", fe.Value(), constraint(fe)),
			}
		}
		return nil, &ConfigError{Field: "Config", Err: err}
	}

	ret := &resolved{
		log:      zerolog.Nop(),
		mode:     c.Mode,
		ordered:  c.Ordered,
		progress: c.Progress,
		total:    c.Total,
		env:      slices.Clone(c.WorkerEnv),
		grace:    c.GracePeriod,
		metrics:  c.Metrics,
		rate:     c.RateLimit,
		burst:    c.RateBurst,
		recorder: c.Recorder,
	}
	if c.Logger != nil {
		ret.log = *c.Logger
	}

	switch {
	case c.Mode == ModeSequential:
		ret.workers = 1
	case c.Workers > 0:
		ret.workers = c.Workers
	case c.WorkerFraction > 0:
		ret.workers = max(1, int(math.RoundToEven(c.WorkerFraction*float64(cpuCount()))))
	default:
		ret.workers = max(1, cpuCount())
	}
	return ret, nil
}

func constraint(fe validator.FieldError) string {
	if p := fe.Param(); p != "" {
		return fe.Tag() + "=" + p
	}
	return fe.Tag()
}

// poolOptions converts the Config into options for a pool.
func (r *resolved) poolOptions(log zerolog.Logger) []pool.Option {
	return []pool.Option{
		pool.WithEnv(r.env...),
		pool.WithGracePeriod(r.grace),
		pool.WithLogger(log),
		pool.WithMetrics(r.metrics),
		pool.WithRateLimit(r.rate, r.burst),
		pool.WithRecorder(r.recorder),
	}
}
