// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"vawter.tech/ptqdm/internal/safe"
)

// A handler decodes an argument, runs a task, and encodes its result.
type handler func(ctx context.Context, arg json.RawMessage) (json.RawMessage, error)

var registry struct {
	sync.Mutex
	tasks map[string]handler
}

// A Task is a function that has been registered by name so that it can
// be executed in a child process. Arguments and results must survive a
// round-trip through JSON.
//
// Tasks are usually declared as package-level variables so that they
// are registered identically in the parent and in every child:
//
//	var square = pool.Register("example.square",
//		func(_ context.Context, x int) (int, error) { return x * x, nil })
type Task[T, R any] struct {
	fn   Func[T, R]
	name string
}

// Register associates the function with a unique name. It panics if
// the name is empty, the function is nil, or the name is already in use.
func Register[T, R any](name string, fn Func[T, R]) *Task[T, R] {
	if name == "" {
		panic("pool: empty task name")
	}
	if fn == nil {
		panic("pool: nil task function " + name)
	}

	registry.Lock()
	defer registry.Unlock()
	if registry.tasks == nil {
		registry.tasks = make(map[string]handler)
	}
	if _, dup := registry.tasks[name]; dup {
		panic("pool: duplicate task " + name)
	}
	registry.tasks[name] = func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var arg T
		if err := json.Unmarshal(raw, &arg); err != nil {
			return nil, fmt.Errorf("decode argument: %w", err)
		}
		ret, err := safe.Apply(func(arg T) (R, error) { return fn(ctx, arg) }, arg)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(ret)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return out, nil
	}
	return &Task[T, R]{fn: fn, name: name}
}

// Tasks returns the sorted names of all registered tasks.
func Tasks() []string {
	registry.Lock()
	defer registry.Unlock()
	ret := make([]string, 0, len(registry.tasks))
	for name := range registry.tasks {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Call runs the task in the current process.
func (t *Task[T, R]) Call(ctx context.Context, arg T) (R, error) {
	return t.fn(ctx, arg)
}

// Name returns the registered name.
func (t *Task[T, R]) Name() string { return t.name }

// String is for debugging use only.
func (t *Task[T, R]) String() string { return t.name }

func lookup(name string) (handler, error) {
	registry.Lock()
	defer registry.Unlock()
	h, ok := registry.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return h, nil
}
