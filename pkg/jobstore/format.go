package jobstore

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/trafficlens/trafficlens/pkg/models"
)

var titleCaser = cases.Title(language.English)

// maxElapsedSeconds caps FormatElapsed at "9999h 59m"
const maxElapsedSeconds = 9999*3600 + 59*60 + 59

// FormatElapsed renders elapsed seconds as "42s", "3m 07s" or "1h 02m"
func FormatElapsed(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		seconds = 0
	}
	if seconds > maxElapsedSeconds {
		seconds = maxElapsedSeconds
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatBytes renders a byte count in binary units
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

// Truncate shortens s to max runes, marking the cut with "..."
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// DisplayProgress is the clamped, rounded percentage for j
func DisplayProgress(j models.Job) int {
	return j.DisplayProgress()
}

// StatusLabel turns "processing" into "Processing". Unknown statuses are
// labelled verbatim.
func StatusLabel(status models.JobStatus) string {
	if status == "" {
		return "Unknown"
	}
	return titleCaser.String(strings.ReplaceAll(string(status), "_", " "))
}

// ProgressBar draws a fixed-width text bar for a 0-100 percentage
func ProgressBar(percent, width int) string {
	if width <= 0 {
		return ""
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
