// Copyright 2025 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package linger

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDepth = 2

func startWorker(rec *Recorder) func() {
	return rec.Track("worker")
}

func TestRecorderTrack(t *testing.T) {
	r := require.New(t)

	rec := NewRecorder(sampleDepth)
	release := startWorker(rec)
	checkRecorder(r, rec, "linger.startWorker")

	res := rec.Resources()
	r.Len(res, 1)
	r.Equal("worker", res[0].Kind)

	release()
	release()
	r.Zero(rec.Len())
	r.Empty(rec.Callers())
}

func TestRecorderNil(t *testing.T) {
	r := require.New(t)

	var rec *Recorder
	release := rec.Track("worker")
	release()
	r.Zero(rec.Len())
	r.Nil(rec.Resources())
}

func checkRecorder(r *require.Assertions, rec *Recorder, where string) {
	sample := rec.Callers()
	r.Len(sample, 1)
	r.Len(sample[0], sampleDepth)
	frames := runtime.CallersFrames(sample[0])
	for {
		frame, more := frames.Next()
		if strings.HasSuffix(frame.Function, where) {
			break
		}
		if !more {
			r.Failf("frame not found", "did not find expected frame %s: check callersOffset constant", where)
		}
	}
}
