// Copyright 2025 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package linger reports on pool resources, worker goroutines and child
// processes, that are still alive and where they were started.
//
// Attach a [Recorder] to a pool or to a map invocation and call
// [CheckClean] once the result stream has been exhausted or abandoned.
package linger

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// This value is sensitive to the code structure.
const callersOffset = 2

// A Resource describes something tracked by a [Recorder].
type Resource struct {
	Kind  string    // Such as "worker" or "process".
	Stack []uintptr // Where the resource was started.
}

// NewRecorder constructs a [Recorder] that samples the call stack at the
// requested depth. A depth of 1 records the function that called
// [Recorder.Track].
func NewRecorder(depth int) *Recorder {
	return &Recorder{depth: depth}
}

// A Recorder tracks the call stacks where pool resources were started.
// It is primarily useful in tests, to ensure that nothing outlives the
// map call that created it. A nil Recorder is valid and tracks nothing.
type Recorder struct {
	counter atomic.Uint64
	data    sync.Map
	depth   int
}

// Callers returns a snapshot of the caller stacks associated with any
// resources that are currently alive.
func (r *Recorder) Callers() [][]uintptr {
	var ret [][]uintptr
	for _, res := range r.Resources() {
		ret = append(ret, res.Stack)
	}
	return ret
}

// Len returns the number of live resources.
func (r *Recorder) Len() int {
	return len(r.Resources())
}

// Resources returns a snapshot of all live resources.
func (r *Recorder) Resources() []Resource {
	if r == nil {
		return nil
	}
	var ret []Resource
	r.data.Range(func(_, value any) bool {
		ret = append(ret, value.(Resource))
		return true
	})
	return ret
}

// Track samples the caller's stack and records a live resource of the
// given kind. The returned function must be called once the resource
// has been released; calling it more than once is harmless.
func (r *Recorder) Track(kind string) (release func()) {
	if r == nil {
		return func() {}
	}
	pc := make([]uintptr, r.depth)
	pc = pc[:runtime.Callers(callersOffset, pc)]

	id := r.counter.Add(1)
	r.data.Store(id, Resource{Kind: kind, Stack: pc})

	return func() { r.data.Delete(id) }
}
