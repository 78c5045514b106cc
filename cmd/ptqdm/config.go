// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"vawter.tech/ptqdm"
)

const envPrefix = "PTQDM"

// settings are gathered from flags, PTQDM_* environment variables, an
// optional .env file, and an optional YAML file, in that order of
// precedence.
type settings struct {
	Burst       int
	Desc        string
	Env         []string
	Grace       time.Duration
	Input       string
	LogLevel    string
	MinInterval time.Duration
	Mode        ptqdm.Mode
	Rate        float64
	Stats       bool
	Total       int // Negative if unset.
	Unordered   bool
	Workers     string

	// Command is the template after the "--" separator.
	Command []string
}

func newFlagSet(out io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet("ptqdm", pflag.ContinueOnError)
	flags.SetOutput(out)
	flags.Usage = func() {
		_, _ = fmt.Fprintln(out, "usage: ptqdm [flags] -- command [args...]")
		_, _ = fmt.Fprintln(out, "Runs command once per input line; {} in args is replaced by the line.")
		flags.PrintDefaults()
	}

	flags.Int("burst", 1, "number of commands that may start at once under --rate")
	flags.String("config", "", "YAML configuration file")
	flags.String("desc", "", "progress bar description")
	flags.StringArray("env", nil, "KEY=VALUE added to the environment of process workers (repeatable)")
	flags.String("env-file", "", "dotenv file to load (default .env, if present)")
	flags.Duration("grace", 5*time.Second, "how long process workers may take to exit before being killed")
	flags.StringP("input", "i", "", "read input lines from this file instead of stdin")
	flags.String("log-level", "warn", "zerolog level: trace, debug, info, warn, error")
	flags.Duration("min-interval", 100*time.Millisecond, "minimum time between progress redraws")
	flags.String("mode", string(ptqdm.ModeThread), "worker kind: thread, process, or sequential")
	flags.Float64("rate", 0, "maximum commands started per second (0 is unlimited)")
	flags.Bool("stats", false, "print a JSON summary to stderr when done")
	flags.Int("total", -1, "expected number of input lines, if known")
	flags.BoolP("unordered", "u", false, "print output as commands finish")
	flags.StringP("workers", "j", "", "worker count, or a fraction of the CPUs such as 0.5")
	return flags
}

// loadSettings parses the command line. It returns pflag.ErrHelp if
// usage was requested.
func loadSettings(args []string, out io.Writer) (*settings, error) {
	flags := newFlagSet(out)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	envFile, _ := flags.GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", cfgFile, err)
		}
	}

	mode, err := ptqdm.ParseMode(v.GetString("mode"))
	if err != nil {
		return nil, err
	}
	s := &settings{
		Burst:       v.GetInt("burst"),
		Command:     flags.Args(),
		Desc:        v.GetString("desc"),
		Env:         v.GetStringSlice("env"),
		Grace:       v.GetDuration("grace"),
		Input:       v.GetString("input"),
		LogLevel:    v.GetString("log-level"),
		MinInterval: v.GetDuration("min-interval"),
		Mode:        mode,
		Rate:        v.GetFloat64("rate"),
		Stats:       v.GetBool("stats"),
		Total:       v.GetInt("total"),
		Unordered:   v.GetBool("unordered"),
		Workers:     v.GetString("workers"),
	}
	if len(s.Command) == 0 {
		return nil, errors.New("no command given; see --help")
	}
	return s, nil
}

// options converts the settings into engine options.
func (s *settings) options() ([]ptqdm.Option, error) {
	var opts []ptqdm.Option
	switch w := strings.TrimSpace(s.Workers); {
	case w == "":
	case strings.ContainsAny(w, ".eE"):
		f, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return nil, fmt.Errorf("--workers: %w", err)
		}
		opts = append(opts, ptqdm.WithWorkerFraction(f))
	default:
		n, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("--workers: %w", err)
		}
		opts = append(opts, ptqdm.WithWorkers(n))
	}
	if len(s.Env) > 0 {
		opts = append(opts, ptqdm.WithWorkerEnv(s.Env...))
	}
	opts = append(opts, ptqdm.WithGracePeriod(s.Grace))
	if s.Total >= 0 {
		opts = append(opts, ptqdm.WithTotal(s.Total))
	}
	if s.Rate > 0 {
		opts = append(opts, ptqdm.WithRateLimit(s.Rate, s.Burst))
	}
	return opts, nil
}
