package cli

import (
	"fmt"
	"strings"
	"time"

	"conviction-engine/internal/models"
)

// FormatScore formats a 0-100 score with one decimal.
func FormatScore(score float64) string {
	return fmt.Sprintf("%.1f", score)
}

// FormatSources formats a source list as a short comma separated string.
func FormatSources(sources []models.Source) string {
	labels := make([]string, len(sources))
	for i, src := range sources {
		labels[i] = src.Label()
	}
	return strings.Join(labels, ", ")
}

// FormatDate formats a date for display.
func FormatDate(t time.Time) string {
	return t.Format(models.DateLayout)
}

// FormatDateTime formats a timestamp for display.
func FormatDateTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// FormatAge formats how long ago t was relative to now.
func FormatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "in the future"
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// TruncateString truncates a string to maxLen runes, ending with "...".
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
