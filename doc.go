// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package ptqdm maps a function over a sequence in parallel while
// drawing a live progress bar.
//
// The ten facade functions differ only in the kind of worker and in
// result ordering:
//
//	           | ordered         | unordered
//	-----------+-----------------+------------------
//	process    | PIMap / PMap    | PUIMap / PUMap
//	thread     | TIMap / TMap    | TUIMap / TUMap
//	sequential | SIMap / SMap    |
//
// The "I" variants return an [iter.Seq2] that yields results lazily.
// The others collect every result into a slice. All of them are thin
// wrappers around [Map], which accepts an explicit [Config].
//
// # Inputs
//
// An input is a [Source], which is an [iter.Seq] that may know its own
// length. Use [Slice] for a slice, [Values] or [Chan] for an input of
// unknown length, and [Zip] or [ZipN] to combine several inputs
// position by position. When the length is known, the progress bar
// shows a percentage and an estimate of the time remaining; otherwise,
// it shows a running count. [WithTotal] overrides the length.
//
//	squares, err := ptqdm.TMap(ctx,
//	    func(_ context.Context, x int) (int, error) { return x * x, nil },
//	    ptqdm.Slice([]int{1, 2, 3}),
//	    ptqdm.WithWorkers(2))
//
// # Workers
//
// By default, one worker is started per CPU. [WithWorkers] sets an
// absolute count, and [WithWorkerFraction] sizes the pool relative to
// the number of CPUs.
//
// Thread workers are goroutines, so the function must be safe for
// concurrent use. Process workers are copies of the current program,
// which isolates the function at the cost of encoding every argument
// and result as JSON. They run a [pool.Task], which must be registered
// in a package-level variable, and the program must call [pool.Main]
// before doing anything else:
//
//	var square = pool.Register("square",
//	    func(_ context.Context, x int) (int, error) { return x * x, nil })
//
//	func main() {
//	    pool.Main()
//	    squares, err := ptqdm.PMap(ctx, square, ptqdm.Slice(input))
//	    ...
//	}
//
// # Errors
//
// A [*ConfigError] is returned before any worker starts. Once workers
// are running, the first failing item stops dispatch and is reported as
// a [*WorkerError], after any earlier results have been yielded. Panics
// are recovered and reported the same way. The pool is always released
// and the progress bar is always closed, whether the sequence is
// exhausted, fails, or is abandoned part-way through.
//
// # Observability
//
// Pools log through [github.com/rs/zerolog] when [WithLogger] is set and
// record Prometheus metrics when [WithMetrics] is set. Every submission
// creates a [runtime/trace.Task], and waits are annotated with regions.
package ptqdm
