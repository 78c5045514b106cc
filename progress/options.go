// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"io"
	"time"
)

// An Option configures a [Bar].
type Option func(b *Bar)

// Clock replaces the time source. It exists for tests.
func Clock(now func() time.Time) Option {
	return func(b *Bar) { b.now = now }
}

// Description sets the label drawn before the bar.
func Description(desc string) Option {
	return func(b *Bar) { b.desc = desc }
}

// Disable suppresses all output. Counting continues.
func Disable() Option {
	return func(b *Bar) { b.disabled = true }
}

// MinInterval limits how often the bar is redrawn. A non-positive
// value redraws on every tick. The final state is always drawn by
// [Bar.Close].
func MinInterval(d time.Duration) Option {
	return func(b *Bar) { b.interval = d }
}

// OnClose registers a callback that receives the final state of the
// Bar once it has been closed.
func OnClose(fn func(Snapshot)) Option {
	return func(b *Bar) { b.onClose = append(b.onClose, fn) }
}

// Output sets the destination, which defaults to [os.Stderr].
func Output(w io.Writer) Option {
	return func(b *Bar) { b.out = w }
}

// Unit sets the label for counted items, which defaults to "it".
func Unit(unit string) Option {
	return func(b *Bar) { b.unit = unit }
}

// Width sets the total line width. By default, the width of the
// terminal is used, or 80 columns if the output is not a terminal.
func Width(n int) Option {
	return func(b *Bar) { b.width = n }
}
