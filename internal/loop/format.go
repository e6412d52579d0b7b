package loop

import (
	"fmt"
	"strings"
	"time"
)

// formatDuration formats a duration in a human-readable way (e.g., "2m34s", "1h12m").
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// formatCycleLog formats a per-cycle log line.
func formatCycleLog(cycle, maxLoops int, succeeded bool, exitCode int, duration time.Duration) string {
	status := "success"
	if !succeeded {
		status = fmt.Sprintf("failed: exit code %d", exitCode)
	}
	return fmt.Sprintf("[%d/%d] agent → %s (%s)", cycle, maxLoops, status, formatDuration(duration))
}

// formatSummary formats the end-of-loop summary.
func formatSummary(summary *Summary) string {
	var lines []string
	lines = append(lines, "Loop complete:")

	if summary.Succeeded > 0 {
		lines = append(lines, fmt.Sprintf("  ✓ %d cycle(s) succeeded", summary.Succeeded))
	}
	if summary.Failed > 0 {
		lines = append(lines, fmt.Sprintf("  ✗ %d cycle(s) failed", summary.Failed))
	}
	if summary.Cycles == 0 {
		lines = append(lines, "  ○ no cycles executed")
	}
	lines = append(lines, fmt.Sprintf("  Duration: %s", formatDuration(summary.Duration)))
	if summary.StopReason == StopInterrupted {
		lines = append(lines, fmt.Sprintf("  Stopped: %s", summary.StopReason))
	}

	return strings.Join(lines, "\n")
}
