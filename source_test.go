// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package ptqdm

import (
	"iter"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

// counting yields 0..n-1 and records how many values were pulled.
func counting(n int, pulled *int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range n {
			*pulled++
			if !yield(i) {
				return
			}
		}
	}
}

func TestSourceLen(t *testing.T) {
	r := require.New(t)

	n, ok := Slice([]int{1, 2, 3}).Len()
	r.True(ok)
	r.Equal(3, n)

	_, ok = Values(slices.Values([]int{1})).Len()
	r.False(ok)

	n, ok = Sized(slices.Values([]int{1}), 5).Len()
	r.True(ok)
	r.Equal(5, n)

	_, ok = Sized(slices.Values([]int{1}), -1).Len()
	r.False(ok)

	var zero Source[int]
	r.Empty(slices.Collect(zero.All()))
}

func TestChan(t *testing.T) {
	r := require.New(t)

	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	src := Chan(ch)
	_, ok := src.Len()
	r.False(ok)
	r.Equal([]int{1, 2, 3}, slices.Collect(src.All()))
}

func TestZip(t *testing.T) {
	r := require.New(t)

	var pulledA, pulledB int
	src := Zip(
		Sized(counting(3, &pulledA), 3),
		Sized(counting(10, &pulledB), 10),
	)
	n, ok := src.Len()
	r.True(ok)
	r.Equal(3, n)

	var got []Pair[int, int]
	for p := range src.All() {
		got = append(got, p)
	}
	r.Equal([]Pair[int, int]{{0, 0}, {1, 1}, {2, 2}}, got)
	// A known length means no input is read past the end.
	r.Equal(3, pulledA)
	r.Equal(3, pulledB)
}

func TestZipUnsized(t *testing.T) {
	r := require.New(t)

	src := Zip(Values(slices.Values([]string{"a", "b"})), Slice([]int{1, 2, 3}))
	n, ok := src.Len()
	r.True(ok)
	r.Equal(3, n)
	r.Equal([]Pair[string, int]{{"a", 1}, {"b", 2}}, slices.Collect(src.All()))

	src2 := Zip(Values(slices.Values([]int{1})), Values(slices.Values([]int{1, 2})))
	_, ok = src2.Len()
	r.False(ok)
	r.Len(slices.Collect(src2.All()), 1)
}

func TestZipEmpty(t *testing.T) {
	r := require.New(t)

	var pulled int
	src := Zip(Slice([]int(nil)), Sized(counting(5, &pulled), 5))
	r.Empty(slices.Collect(src.All()))
	r.Zero(pulled)
}

func TestZipN(t *testing.T) {
	r := require.New(t)

	src := ZipN(Slice([]int{1, 2, 3}), Slice([]int{4, 5}), Values(slices.Values([]int{6, 7, 8})))
	n, ok := src.Len()
	r.True(ok)
	r.Equal(2, n)
	r.Equal([][]int{{1, 4, 6}, {2, 5, 7}}, slices.Collect(src.All()))

	r.Empty(slices.Collect(ZipN[int]().All()))
}
