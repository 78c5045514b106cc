// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package ptqdm

import (
	"iter"
	"slices"
)

// A Source is an input sequence that may know its own length. The
// length, when known, is used as the total of the progress bar.
type Source[T any] struct {
	n     int
	seq   iter.Seq[T]
	sized bool
}

// Slice returns a sized Source over the elements of s.
func Slice[T any](s []T) Source[T] {
	return Source[T]{n: len(s), seq: slices.Values(s), sized: true}
}

// Sized returns a Source that reports n as its length. A negative n
// means the length is unknown. The sequence is not truncated to n.
func Sized[T any](seq iter.Seq[T], n int) Source[T] {
	return Source[T]{n: max(n, 0), seq: seq, sized: n >= 0}
}

// Values returns a Source of unknown length.
func Values[T any](seq iter.Seq[T]) Source[T] {
	return Source[T]{seq: seq}
}

// Chan returns a Source of unknown length that receives from ch until
// it is closed.
func Chan[T any](ch <-chan T) Source[T] {
	return Values(func(yield func(T) bool) {
		for v := range ch {
			if !yield(v) {
				return
			}
		}
	})
}

// All returns the underlying sequence. A nil sequence is empty.
func (s Source[T]) All() iter.Seq[T] {
	if s.seq == nil {
		return func(func(T) bool) {}
	}
	return s.seq
}

// Len returns the length of the Source, if known.
func (s Source[T]) Len() (n int, known bool) {
	return s.n, s.sized
}

// A Pair holds the elements at the same position of two inputs.
type Pair[A, B any] struct {
	First  A `json:"first"`
	Second B `json:"second"`
}

// Zip combines two inputs position by position, stopping at the end of
// the shorter one. The combined length is the smaller of the known
// lengths, or unknown if neither length is known.
func Zip[A, B any](a Source[A], b Source[B]) Source[Pair[A, B]] {
	n, sized := minLen(a, b)
	return Source[Pair[A, B]]{
		n:     n,
		sized: sized,
		seq: func(yield func(Pair[A, B]) bool) {
			nextA, stopA := iter.Pull(a.All())
			defer stopA()
			nextB, stopB := iter.Pull(b.All())
			defer stopB()
			for idx := 0; !sized || idx < n; idx++ {
				va, ok := nextA()
				if !ok {
					return
				}
				vb, ok := nextB()
				if !ok {
					return
				}
				if !yield(Pair[A, B]{va, vb}) {
					return
				}
			}
		},
	}
}

// ZipN combines any number of inputs of the same type. Each element is
// a newly allocated slice holding one value from every input.
func ZipN[T any](srcs ...Source[T]) Source[[]T] {
	lens := make([]lengther, len(srcs))
	for i, src := range srcs {
		lens[i] = src
	}
	n, sized := minLen(lens...)
	return Source[[]T]{
		n:     n,
		sized: sized,
		seq: func(yield func([]T) bool) {
			if len(srcs) == 0 {
				return
			}
			nexts := make([]func() (T, bool), len(srcs))
			for i, src := range srcs {
				next, stop := iter.Pull(src.All())
				defer stop()
				nexts[i] = next
			}
			for idx := 0; !sized || idx < n; idx++ {
				row := make([]T, len(nexts))
				for i, next := range nexts {
					v, ok := next()
					if !ok {
						return
					}
					row[i] = v
				}
				if !yield(row) {
					return
				}
			}
		},
	}
}

// lengther is satisfied by every Source instantiation.
type lengther interface {
	Len() (int, bool)
}

func minLen(srcs ...lengther) (n int, known bool) {
	for _, src := range srcs {
		if l, ok := src.Len(); ok && (!known || l < n) {
			n, known = l, true
		}
	}
	return n, known
}
