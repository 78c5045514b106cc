// Copyright 2025 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package linger

import (
	"runtime"
	"time"
)

// CheckClean will record a test error if there are any live resources
// being tracked by the Recorder. A snapshot of the stack where each
// resource was started will be written into the test log.
func CheckClean(t TestingT, r *Recorder) {
	res := r.Resources()
	if len(res) == 0 {
		return
	}

	// Improve error messages if we're being called from a real test.
	if x, ok := t.(interface{ Helper() }); ok {
		x.Helper()
	}

	t.Errorf("lingering resources detected")
	for _, found := range res {
		t.Errorf("  stuck %s started at:", found.Kind)
		frames := runtime.CallersFrames(found.Stack)
		for {
			frame, more := frames.Next()
			t.Errorf("    %s (%s:%d)", frame.Function, frame.File, frame.Line)
			if !more {
				break
			}
		}
	}
}

// WaitClean polls the Recorder until no resources remain or the
// timeout expires, and then delegates to [CheckClean]. It is useful
// when resources are released asynchronously, for example when a
// child process is being reaped.
func WaitClean(t TestingT, r *Recorder, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for r.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	CheckClean(t, r)
}

// TestingT is the subset of [testing.TB] needed by [CheckClean].
type TestingT interface {
	Errorf(string, ...any)
}
