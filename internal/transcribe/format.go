package transcribe

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// FormatTimestamp renders seconds as HH:MM:SS.mmm.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	return fmt.Sprintf(
		"%02d:%02d:%02d.%03d",
		ms/3_600_000,
		ms/60_000%60,
		ms/1000%60,
		ms%1000,
	)
}

// FormatSegment renders one transcript line including the trailing newline.
func FormatSegment(seg Segment) string {
	return fmt.Sprintf(
		"[%s --> %s] %s\n",
		FormatTimestamp(seg.Start),
		FormatTimestamp(seg.End),
		strings.TrimSpace(seg.Text),
	)
}

// DefaultOutputPath replaces the audio extension with .txt.
func DefaultOutputPath(inputPath string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".txt"
}
