// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a second submission is started while
	// another is still active on the same pool.
	ErrBusy = errors.New("pool has an active submission")

	// ErrReleased is returned by submissions to a released pool.
	ErrReleased = errors.New("pool released")

	// ErrUnknownTask is returned when a child process is asked to
	// serve a task that was never registered.
	ErrUnknownTask = errors.New("unknown task")

	// ErrWorkerExited is returned when a child process goes away while
	// an item is in flight.
	ErrWorkerExited = errors.New("worker process exited")
)

// A WorkerError reports the failure of a single work item.
type WorkerError struct {
	Index int // The 0-based position of the item in the input.
	Err   error
}

// Error implements error.
func (e *WorkerError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// Unwrap returns the enclosed error.
func (e *WorkerError) Unwrap() error { return e.Err }

// A RemoteError is a failure reported by a task running in a child
// process. Only the message survives the process boundary.
type RemoteError struct {
	Message string
	Panic   bool // The task panicked rather than returning an error.
	Task    string
}

// Error implements error.
func (e *RemoteError) Error() string {
	if e.Panic {
		return fmt.Sprintf("%s: %s (recovered in worker)", e.Task, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Task, e.Message)
}
