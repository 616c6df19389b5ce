package tui

import (
	"fmt"
	"strings"
)

// FormatLatency formats milliseconds as "Xms" below a second, "X.Xs" above.
func FormatLatency(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

// FormatElapsed formats milliseconds as "Xm Ys" or "Ys".
func FormatElapsed(ms int64) string {
	seconds := ms / 1000
	minutes := seconds / 60
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	}
	return fmt.Sprintf("%ds", seconds)
}

// FormatPercentage formats a 0-100 progress value.
func FormatPercentage(p int) string {
	return fmt.Sprintf("%d%%", p)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
// Newlines are kept so multi-line responses still read naturally.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
