// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package pool contains fixed-size worker pools that apply a function
// to a stream of inputs and stream the results back.
//
// Every pool implements [Pool]. [Threads] runs the function in worker
// goroutines that share the caller's memory. [Processes] runs a
// registered [Task] in child processes, which isolates the function at
// the cost of serializing every argument and result. [Inline] runs the
// function in the consuming goroutine, one item at a time.
//
// # Ordering
//
// [Pool.SubmitOrdered] yields results in input order. Items are pulled
// from the input under a lock, and a per-item reply channel is queued in
// pull order; the consumer drains that queue, so a result that finishes
// early waits for its predecessors. [Pool.SubmitUnordered] yields
// results as they complete.
//
// # Failures
//
// The first failing item stops dispatch. Items already running are
// allowed to finish, then the failure is yielded as a [*WorkerError]
// and the sequence ends. In ordered mode every earlier item is yielded
// first. In unordered mode any results that had already been buffered
// when the failure was observed are yielded first. Panics in the
// function are recovered and reported the same way.
//
// # Child processes
//
// A [Processes] pool re-executes the current binary. The child must
// reach [Main] before doing anything else, which is typically the first
// statement of main (or of TestMain):
//
//	var resize = pool.Register("resize", resizeImage)
//
//	func main() {
//	    pool.Main()
//	    ...
//	}
//
// Arguments and results cross the process boundary as JSON, so their
// types must round-trip through encoding/json rules.
package pool
