// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"vawter.tech/ptqdm/pool"
)

const (
	placeholder = "{}"
	waitDelay   = 5 * time.Second
)

// A job is one command invocation.
type job struct {
	Argv []string `json:"argv"`
}

// An outcome is what a job wrote to stdout.
type outcome struct {
	Stdout []byte `json:"stdout"`
}

// execTask runs a job in whichever worker receives it. It is registered
// here so that re-executed copies of this program can serve it.
var execTask = pool.Register("ptqdm.exec", runJob)

// newJob substitutes the line into the template. If no argument
// contains the placeholder, the line is appended as a final argument.
func newJob(template []string, line string) job {
	argv := slices.Clone(template)
	found := false
	for i, arg := range argv {
		if strings.Contains(arg, placeholder) {
			argv[i] = strings.ReplaceAll(arg, placeholder, line)
			found = true
		}
	}
	if !found {
		argv = append(argv, line)
	}
	return job{Argv: argv}
}

// runJob executes the command, capturing its output. On cancellation,
// the command is interrupted and then killed if it does not exit
// promptly.
func runJob(ctx context.Context, j job) (outcome, error) {
	if len(j.Argv) == 0 {
		return outcome{}, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, j.Argv[0], j.Argv[1:]...) //nolint:gosec // running commands is the point
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return outcome{}, fmt.Errorf("%s: interrupted: %w", j.Argv[0], context.Cause(ctx))
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return outcome{}, fmt.Errorf("%s: %w", strings.Join(j.Argv, " "), err)
		}
		return outcome{}, fmt.Errorf("%s: %w: %s", strings.Join(j.Argv, " "), err, msg)
	}
	return outcome{Stdout: stdout.Bytes()}, nil
}
