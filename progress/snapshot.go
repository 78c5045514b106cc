// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// A Snapshot is a point-in-time summary of a [Bar].
type Snapshot struct {
	Closed      bool
	Count       int64
	Description string
	Elapsed     time.Duration
	Total       int64 // Negative if unknown.
}

// Snapshot summarizes the Bar's current state.
func (b *Bar) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Bar) snapshotLocked() Snapshot {
	return Snapshot{
		Closed:      b.mu.closed,
		Count:       b.mu.count,
		Description: b.desc,
		Elapsed:     b.now().Sub(b.mu.start),
		Total:       b.mu.total,
	}
}

// Rate returns items per second, or zero if no time has elapsed.
func (s Snapshot) Rate() float64 {
	if secs := s.Elapsed.Seconds(); secs > 0 {
		return float64(s.Count) / secs
	}
	return 0
}

// MarshalJSON summarizes the Snapshot.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	p := struct {
		Count       int64   `json:"count"`
		Description string  `json:"description,omitempty"`
		Elapsed     float64 `json:"elapsedSeconds"`
		Rate        float64 `json:"rate"`
		State       string  `json:"state"`
		Total       *int64  `json:"total,omitempty"`
	}{
		Count:       s.Count,
		Description: s.Description,
		Elapsed:     s.Elapsed.Seconds(),
		Rate:        s.Rate(),
		State:       "running",
	}
	if s.Closed {
		p.State = "closed"
	}
	if s.Total >= 0 {
		p.Total = &s.Total
	}
	return json.Marshal(p)
}

// String is for debugging use only.
func (s Snapshot) String() string {
	total := "?"
	if s.Total >= 0 {
		total = fmt.Sprint(s.Total)
	}
	return fmt.Sprintf("%s %d/%s (%s)", s.Description, s.Count, total, s.Elapsed)
}
