// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"vawter.tech/ptqdm/internal/safe"
)

// EnvTask is the environment variable that places a process into
// worker mode. Its value is the name of the task to serve.
const EnvTask = "PTQDM_WORKER_TASK"

// Child processes inherit these descriptors, after stdin, stdout, and
// stderr, from [exec.Cmd.ExtraFiles].
const (
	requestFD = 3
	replyFD   = 4
)

// A request frame is sent from the parent to a child.
type request struct {
	Seq   uint64          `json:"seq"`
	Index int             `json:"index"`
	Arg   json.RawMessage `json:"arg"`
}

// A reply frame is sent from a child to the parent.
type reply struct {
	Seq    uint64          `json:"seq"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Panic  bool            `json:"panic,omitempty"`
}

// IsWorker returns true if the current process was started by a
// [Processes] pool.
func IsWorker() bool {
	return os.Getenv(EnvTask) != ""
}

// Main must be called at the start of the program's main function, and
// from TestMain in packages whose tests use a [Processes] pool. In a
// worker child, it serves requests until the parent closes the request
// pipe and then exits the process. Otherwise, it returns immediately.
func Main() {
	name := os.Getenv(EnvTask)
	if name == "" {
		return
	}
	// The parent decides when children stop.
	signal.Ignore(os.Interrupt)

	in := os.NewFile(requestFD, "ptqdm-requests")
	out := os.NewFile(replyFD, "ptqdm-replies")
	if err := Serve(context.Background(), name, in, out); err != nil {
		log := zerolog.New(os.Stderr).With().
			Timestamp().
			Int("pid", os.Getpid()).
			Str("task", name).
			Logger()
		log.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
	os.Exit(0)
}

// Serve reads request frames from in, executes the named task, and
// writes reply frames to out. It returns nil once in reaches EOF.
func Serve(ctx context.Context, name string, in io.Reader, out io.Writer) error {
	h, err := lookup(name)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bufio.NewReader(in))
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		rep := reply{Seq: req.Seq}
		if ret, err := h(ctx, req.Arg); err != nil {
			rep.Error, rep.Panic = remoteMessage(err)
		} else {
			rep.Result = ret
		}

		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}

// remoteMessage flattens an error for transmission. The stack of a
// recovered panic is meaningless to the parent, so it is dropped.
func remoteMessage(err error) (msg string, panicked bool) {
	var rec *safe.RecoveredError
	if errors.As(err, &rec) {
		return rec.Err.Error(), true
	}
	return err.Error(), false
}
