// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"fmt"
	"strings"
	"time"
)

// Partial block glyphs, in eighths.
var partials = []rune(" ▏▎▍▌▋▊▉")

// format renders one status line. A negative total selects the
// unbounded layout.
func format(desc, unit string, width int, count, total int64, elapsed time.Duration) string {
	prefix := ""
	if desc != "" {
		prefix = desc + ": "
	}

	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(count) / secs
	}
	rateStr := "?" + unit + "/s"
	if rate > 0 {
		rateStr = fmt.Sprintf("%.2f%s/s", rate, unit)
	}

	if total < 0 {
		return fmt.Sprintf("%s%d%s [%s, %s]",
			prefix, count, unit, formatDuration(elapsed), rateStr)
	}

	frac := 1.0
	if total > 0 {
		frac = min(float64(count)/float64(total), 1)
	}
	remaining := "?"
	if rate > 0 && count <= total {
		left := time.Duration(float64(total-count) / rate * float64(time.Second))
		remaining = formatDuration(left)
	}

	left := fmt.Sprintf("%s%3.0f%%|", prefix, frac*100)
	right := fmt.Sprintf("| %d/%d [%s<%s, %s]",
		count, total, formatDuration(elapsed), remaining, rateStr)

	barWidth := width - len([]rune(left)) - len([]rune(right))
	if barWidth < 1 {
		// Too narrow for a bar; drop it rather than wrap the line.
		return strings.TrimSuffix(left, "|") + right[1:]
	}
	return left + drawBar(frac, barWidth) + right
}

// drawBar fills a bar of the given width using eighth-block glyphs.
func drawBar(frac float64, width int) string {
	eighths := int(frac * float64(width) * 8)
	full := eighths / 8
	var sb strings.Builder
	sb.WriteString(strings.Repeat("█", full))
	if full < width {
		sb.WriteRune(partials[eighths%8])
		sb.WriteString(strings.Repeat(" ", width-full-1))
	}
	return sb.String()
}

// formatDuration renders MM:SS, or H:MM:SS past one hour.
func formatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	h, m, s := secs/3600, secs/60%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
