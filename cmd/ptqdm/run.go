// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"vawter.tech/ptqdm"
	"vawter.tech/ptqdm/pool"
	"vawter.tech/ptqdm/progress"
)

const (
	maxLineSize      = 1 << 20
	metricsNamespace = "ptqdm"
)

// run executes the program and returns its exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	s, err := loadSettings(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "ptqdm:", err)
		return 1
	}
	log := newLogger(stderr, s.LogLevel)

	if err := execute(ctx, s, stdin, stdout, stderr, log); err != nil {
		log.Error().Err(err).Msg("run failed")
		return 1
	}
	return 0
}

// runMain wires process-level concerns around run.
func runMain() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func execute(
	ctx context.Context, s *settings, stdin io.Reader, stdout, stderr io.Writer, log zerolog.Logger,
) error {
	opts, err := s.options()
	if err != nil {
		return err
	}

	src, lines, err := openInput(s, stdin)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics, err := pool.NewMetrics(reg, metricsNamespace)
	if err != nil {
		return err
	}

	var final progress.Snapshot
	opts = append(opts,
		ptqdm.WithLogger(log),
		ptqdm.WithMetrics(metrics),
		ptqdm.WithProgress(
			progress.Description(s.Desc),
			progress.MinInterval(s.MinInterval),
			progress.OnClose(func(snap progress.Snapshot) { final = snap }),
			progress.Output(stderr),
		),
	)
	cfg := ptqdm.Config{Mode: s.Mode, Ordered: !s.Unordered}.Apply(opts...)

	results, err := ptqdm.Map[job, outcome](ctx, execTask, src, cfg)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(stdout)
	var runErr error
	for res, err := range results {
		if err != nil {
			runErr = err
			break
		}
		if _, err := out.Write(res.Stdout); err != nil {
			runErr = err
			break
		}
	}
	if runErr == nil {
		// A read failure ends the input early, which looks like success
		// to the pool.
		runErr = lines.err
	}
	runErr = errors.Join(runErr, out.Flush())

	if s.Stats {
		if err := writeStats(stderr, final, reg); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

// openInput returns the jobs to run. A file is read in full so that the
// progress bar knows the total; stdin is streamed. The returned reader
// reports any error that ended a stream early.
func openInput(s *settings, stdin io.Reader) (ptqdm.Source[job], *lineReader, error) {
	if s.Input == "" {
		lines := &lineReader{r: stdin, template: s.Command}
		return ptqdm.Values(lines.jobs()), lines, nil
	}
	f, err := os.Open(s.Input)
	if err != nil {
		return ptqdm.Source[job]{}, nil, err
	}
	defer func() { _ = f.Close() }()

	lines := &lineReader{r: f, template: s.Command}
	all := slices.Collect(lines.jobs())
	if lines.err != nil {
		return ptqdm.Source[job]{}, nil, fmt.Errorf("read %s: %w", s.Input, lines.err)
	}
	return ptqdm.Slice(all), lines, nil
}

// A lineReader turns lines of input into jobs.
type lineReader struct {
	r        io.Reader
	template []string

	err error // Set once jobs has stopped.
}

// jobs yields one job per line of input. Blank lines are skipped.
func (l *lineReader) jobs() iter.Seq[job] {
	return func(yield func(job) bool) {
		scanner := bufio.NewScanner(l.r)
		scanner.Buffer(nil, maxLineSize)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if !yield(newJob(l.template, line)) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			l.err = fmt.Errorf("read input: %w", err)
		}
	}
}

type stats struct {
	Metrics  map[string]float64 `json:"metrics"`
	Progress progress.Snapshot  `json:"progress"`
}

// writeStats prints the final progress state and the pool metrics as a
// single line of JSON.
func writeStats(w io.Writer, snap progress.Snapshot, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	st := stats{Metrics: make(map[string]float64), Progress: snap}
	for _, family := range families {
		var sum float64
		for _, m := range family.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				sum += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sum += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				sum += float64(m.GetHistogram().GetSampleCount())
			}
		}
		st.Metrics[family.GetName()] = sum
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
