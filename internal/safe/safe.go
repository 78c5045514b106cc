// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package safe contains utilities for executing user-provided
// functions inside pool workers.
package safe

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const captureDepth = 32

// A RecoveredError associates a recovered panic value with the stack of
// the goroutine that panicked.
type RecoveredError struct {
	Err   error
	Stack []uintptr
}

// Error implements error.
func (e *RecoveredError) Error() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "recovered: %v\n", e.Err)
	frames := runtime.CallersFrames(e.Stack)
	for {
		frame, more := frames.Next()
		_, _ = fmt.Fprintf(&sb, "%s ( %s:%d )\n", frame.Function, frame.File, frame.Line)
		if !more {
			return sb.String()
		}
	}
}

// String is for debugging use only.
func (e *RecoveredError) String() string {
	return e.Error()
}

// Unwrap returns the enclosed error.
func (e *RecoveredError) Unwrap() error { return e.Err }

// recovered converts a value returned from recover into a
// RecoveredError, joining it with any error that was already set.
func recovered(prior error, r any) error {
	var err error
	switch t := r.(type) {
	case error:
		err = errors.Join(prior, t)
	default:
		err = errors.Join(prior, fmt.Errorf("panic: %v", t))
	}
	stack := make([]uintptr, captureDepth)
	// Skip runtime.Callers, recovered, and the deferred closure.
	stack = stack[:runtime.Callers(3, stack)]
	return &RecoveredError{
		Err:   err,
		Stack: stack,
	}
}

// CallE executes the function. If the function panics, the recovered
// value will be added to the returned error.
func CallE(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(err, r)
		}
	}()
	err = fn()
	return
}

// Apply invokes fn with the argument, converting a panic into a
// [RecoveredError].
func Apply[T, R any](fn func(T) (R, error), arg T) (ret R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(err, r)
		}
	}()
	ret, err = fn(arg)
	return
}

// IsPanic returns true if the error chain contains a [RecoveredError].
func IsPanic(err error) bool {
	var rec *RecoveredError
	return errors.As(err, &rec)
}
