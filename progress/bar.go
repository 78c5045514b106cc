// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package progress renders a live completion counter for a stream of
// results.
//
// A [Bar] with a known total draws a bounded bar:
//
//	resize: 45%|█████▍      | 45/100 [00:01<00:02, 30.00it/s]
//
// A Bar with an unknown total draws an open counter:
//
//	resize: 45it [00:01, 30.00it/s]
//
// [Wrap] and [WrapErr] pass a sequence through unchanged while ticking
// the Bar once per element, closing it when the sequence ends or the
// consumer stops early.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
	"golang.org/x/time/rate"
)

const (
	defaultInterval = 100 * time.Millisecond
	defaultUnit     = "it"
	defaultWidth    = 80
)

// A Bar renders progress towards an optional total. All methods are
// safe for concurrent use, although a Bar is normally driven from the
// single goroutine consuming a result stream.
type Bar struct {
	desc     string
	disabled bool
	interval time.Duration
	now      func() time.Time
	onClose  []func(Snapshot)
	out      io.Writer
	unit     string
	width    int

	refresh rate.Sometimes

	mu struct {
		sync.Mutex
		closed  bool
		count   int64
		lastLen int
		start   time.Time
		total   int64 // Negative if unknown.
	}
}

// New constructs a Bar and draws its initial state. A negative total
// means that the number of items is not known in advance.
func New(total int64, opts ...Option) *Bar {
	b := &Bar{
		interval: defaultInterval,
		now:      time.Now,
		out:      os.Stderr,
		unit:     defaultUnit,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.width <= 0 {
		b.width = detectWidth(b.out)
	}
	b.refresh = rate.Sometimes{Interval: b.interval}
	if total < 0 {
		total = -1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.mu.start = b.now()
	b.mu.total = total
	_ = b.drawLocked()
	return b
}

// Add advances the counter by n items.
func (b *Bar) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mu.closed {
		return
	}
	b.mu.count += int64(n)

	if b.interval <= 0 {
		_ = b.drawLocked()
		return
	}
	b.refresh.Do(func() { _ = b.drawLocked() })
}

// Close draws the final state followed by a newline. Subsequent calls
// are no-ops. The returned error is from the underlying writer.
func (b *Bar) Close() error {
	b.mu.Lock()
	if b.mu.closed {
		b.mu.Unlock()
		return nil
	}
	b.mu.closed = true
	err := b.finishLocked()
	snap := b.snapshotLocked()
	b.mu.Unlock()

	for _, fn := range b.onClose {
		fn(snap)
	}
	return err
}

func (b *Bar) finishLocked() error {
	if b.disabled {
		return nil
	}
	if err := b.drawLocked(); err != nil {
		return err
	}
	_, err := io.WriteString(b.out, "\n")
	return err
}

// Count returns the number of items seen so far.
func (b *Bar) Count() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mu.count
}

// Tick advances the counter by one item.
func (b *Bar) Tick() { b.Add(1) }

// Total returns the expected number of items, or false if unknown.
func (b *Bar) Total() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mu.total, b.mu.total >= 0
}

// drawLocked overwrites the current terminal line.
func (b *Bar) drawLocked() error {
	if b.disabled {
		return nil
	}
	line := b.formatLocked()
	n := len([]rune(line))
	pad := ""
	if n < b.mu.lastLen {
		pad = strings.Repeat(" ", b.mu.lastLen-n)
	}
	b.mu.lastLen = n
	_, err := fmt.Fprintf(b.out, "\r%s%s", line, pad)
	return err
}

func (b *Bar) formatLocked() string {
	elapsed := b.now().Sub(b.mu.start)
	return format(b.desc, b.unit, b.width, b.mu.count, b.mu.total, elapsed)
}

// detectWidth returns the terminal width if the writer is a terminal.
func detectWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultWidth
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}
