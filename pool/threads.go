// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"fmt"
	"slices"
)

// Threads is a pool of goroutines within the current process. All
// workers share the bound function, so it must be safe for concurrent
// use.
type Threads[T, R any] struct {
	*core[T, R]
}

var _ Pool[int, int] = (*Threads[int, int])(nil)

// NewThreads constructs a pool of n goroutine workers.
func NewThreads[T, R any](n int, fn Func[T, R], opts ...Option) (*Threads[T, R], error) {
	if n < 1 {
		return nil, fmt.Errorf("worker count must be positive: %d", n)
	}
	if fn == nil {
		return nil, errNilFunc
	}
	o := newOptions(opts)
	execs := slices.Repeat([]executor[T, R]{funcExecutor[T, R](fn)}, n)
	return &Threads[T, R]{newCore("thread", execs, nil, o)}, nil
}
