// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package progress

import "iter"

// Wrap returns a sequence that yields every element of seq unchanged,
// ticking the Bar once per element. The Bar is closed when the
// sequence is exhausted or the consumer stops early.
func Wrap[T any](seq iter.Seq[T], bar *Bar) iter.Seq[T] {
	return func(yield func(T) bool) {
		defer func() { _ = bar.Close() }()
		for v := range seq {
			bar.Tick()
			if !yield(v) {
				return
			}
		}
	}
}

// WrapErr is a version of [Wrap] for result streams. Only elements
// with a nil error are counted. A non-nil error is treated as
// terminal: the Bar is closed before the error is yielded so that the
// terminal line is complete by the time the consumer reports it.
func WrapErr[T any](seq iter.Seq2[T, error], bar *Bar) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer func() { _ = bar.Close() }()
		for v, err := range seq {
			if err != nil {
				_ = bar.Close()
				yield(v, err)
				return
			}
			bar.Tick()
			if !yield(v, nil) {
				return
			}
		}
	}
}
