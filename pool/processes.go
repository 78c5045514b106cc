// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime/trace"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Processes is a pool of child processes. Each child is a copy of the
// current executable, started in worker mode, that runs a single
// registered [Task]. The program must call [Main] before doing anything
// else so that the children know to serve requests.
//
// Child processes share the parent's stdout and stderr. Requests and
// replies travel over a dedicated pair of pipes.
type Processes[T, R any] struct {
	*core[T, R]
	task *Task[T, R]
}

var _ Pool[int, int] = (*Processes[int, int])(nil)

// NewProcesses starts n child processes that serve the task. The
// context bounds startup only; children run until [Processes.Release].
func NewProcesses[T, R any](
	ctx context.Context, n int, task *Task[T, R], opts ...Option,
) (*Processes[T, R], error) {
	if n < 1 {
		return nil, fmt.Errorf("worker count must be positive: %d", n)
	}
	if task == nil {
		return nil, errNilFunc
	}
	if _, err := lookup(task.name); err != nil {
		return nil, err
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	o := newOptions(opts)

	ctx, traceTask := trace.NewTask(ctx, "ptqdm.spawn")
	defer traceTask.End()

	children := make([]*child[T, R], 0, n)
	for i := range n {
		var c *child[T, R]
		err := ctx.Err()
		if err == nil {
			c, err = spawn[T, R](exe, task.name, i, o)
		}
		if err != nil {
			// Tear down anything that did start.
			var eg errgroup.Group
			for _, c := range children {
				eg.Go(c.close)
			}
			return nil, errors.Join(fmt.Errorf("start worker %d: %w", i, err), eg.Wait())
		}
		children = append(children, c)
	}

	execs := make([]executor[T, R], len(children))
	closers := make([]func() error, len(children))
	for i, c := range children {
		execs[i] = c
		closers[i] = c.close
	}
	return &Processes[T, R]{
		core: newCore("process", execs, closers, o),
		task: task,
	}, nil
}

// Task returns the task that the children serve.
func (p *Processes[T, R]) Task() *Task[T, R] { return p.task }

// A child owns one worker process. Its exec method is only ever called
// from one goroutine at a time.
type child[T, R any] struct {
	cmd     *exec.Cmd
	dec     *json.Decoder
	enc     *json.Encoder
	exited  chan struct{} // Closed once waitErr is set.
	killed  atomic.Bool   // Set when the parent kills the child.
	o       *options
	release func()
	reqW    *os.File
	respR   *os.File
	seq     uint64
	slot    int
	task    string
	waitErr error

	// broken is set once the request/reply stream can no longer be
	// trusted. Every later call fails with this error.
	broken error
}

var _ executor[int, int] = (*child[int, int])(nil)

func spawn[T, R any](exe, task string, slot int, o *options) (*child[T, R], error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		_ = reqR.Close()
		_ = reqW.Close()
		return nil, err
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), EnvTask+"="+task)
	cmd.Env = append(cmd.Env, o.env...)
	cmd.ExtraFiles = []*os.File{reqR, respW}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	startErr := cmd.Start()
	// The child has its own copies of these.
	_ = reqR.Close()
	_ = respW.Close()
	if startErr != nil {
		_ = reqW.Close()
		_ = respR.Close()
		return nil, startErr
	}

	c := &child[T, R]{
		cmd:     cmd,
		dec:     json.NewDecoder(bufio.NewReader(respR)),
		enc:     json.NewEncoder(reqW),
		exited:  make(chan struct{}),
		o:       o,
		release: o.rec.Track("process"),
		reqW:    reqW,
		respR:   respR,
		slot:    slot,
		task:    task,
	}
	go func() {
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()

	o.log.Debug().
		Int("pid", cmd.Process.Pid).
		Int("slot", slot).
		Str("task", task).
		Msg("worker process started")
	return c, nil
}

// close shuts the request pipe, which the child treats as a request to
// exit. A child that outlives the grace period is killed.
func (c *child[T, R]) close() error {
	defer c.release()
	defer func() { _ = c.respR.Close() }()
	_ = c.reqW.Close()

	pid := c.cmd.Process.Pid
	timer := time.NewTimer(c.o.gracePeriod)
	defer timer.Stop()

	select {
	case <-c.exited:
	case <-timer.C:
		c.kill()
		<-c.exited
		return fmt.Errorf("worker %d (pid %d) killed after %s", c.slot, pid, c.o.gracePeriod)
	}

	if c.waitErr != nil && !c.killed.Load() {
		return fmt.Errorf("worker %d (pid %d): %w", c.slot, pid, c.waitErr)
	}
	c.o.log.Debug().Int("pid", pid).Int("slot", c.slot).Msg("worker process exited")
	return nil
}

func (c *child[T, R]) exec(ctx context.Context, item WorkItem[T]) (R, error) {
	var zero R
	if c.broken != nil {
		return zero, c.broken
	}

	arg, err := json.Marshal(item.Arg)
	if err != nil {
		return zero, fmt.Errorf("encode argument: %w", err)
	}
	c.seq++
	seq := c.seq
	if err := c.enc.Encode(request{Seq: seq, Index: item.Index, Arg: arg}); err != nil {
		c.broken = c.exitError(err)
		return zero, c.broken
	}

	// Closing the child's end of the pipe is the only way to interrupt
	// the decoder.
	stop := context.AfterFunc(ctx, c.kill)
	region := trace.StartRegion(ctx, "worker reply")
	var rep reply
	err = c.dec.Decode(&rep)
	region.End()
	stop()

	if err != nil {
		c.broken = c.exitError(err)
		if cause := context.Cause(ctx); cause != nil {
			return zero, cause
		}
		return zero, c.broken
	}
	if rep.Seq != seq {
		c.broken = fmt.Errorf("worker %d: reply %d does not match request %d", c.slot, rep.Seq, seq)
		return zero, c.broken
	}
	if rep.Error != "" || rep.Panic {
		return zero, &RemoteError{Message: rep.Error, Panic: rep.Panic, Task: c.task}
	}

	var ret R
	if err := json.Unmarshal(rep.Result, &ret); err != nil {
		return zero, fmt.Errorf("decode result: %w", err)
	}
	return ret, nil
}

// exitError describes a broken pipe, including the exit status if the
// child has already gone away.
func (c *child[T, R]) exitError(cause error) error {
	select {
	case <-c.exited:
		if c.waitErr != nil {
			return fmt.Errorf("%w: worker %d: %w", ErrWorkerExited, c.slot, c.waitErr)
		}
	case <-time.After(100 * time.Millisecond):
	}
	return fmt.Errorf("%w: worker %d: %w", ErrWorkerExited, c.slot, cause)
}

func (c *child[T, R]) kill() {
	c.killed.Store(true)
	_ = c.cmd.Process.Kill()
}
