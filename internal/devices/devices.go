// Package devices enumerates capture-capable audio inputs by name.
package devices

import (
	"bufio"
	"context"
	"regexp"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"speech-recorder/internal/command"
)

// ffmpeg input drivers per platform.
const (
	FormatDShow        = "dshow"
	FormatAVFoundation = "avfoundation"
	FormatPulse        = "pulse"
)

var (
	quotedName   = regexp.MustCompile(`"([^"]+)"`)
	indexedName  = regexp.MustCompile(`\[\d+\]\s+(.+)$`)
	pulseSource  = regexp.MustCompile(`^\s*\*?\s*(\S+)\s+\[.*\]\s*$`)
	avAudioBlock = "AVFoundation audio devices"
)

// Lister queries ffmpeg, then the platform audio server, for input devices.
type Lister struct {
	ffmpegPath string
	goos       string
	runner     command.Runner
	native     func(ctx context.Context) ([]string, error)
	logger     zerolog.Logger
}

// NewLister builds a lister using the real ffmpeg and audio server.
func NewLister(logger zerolog.Logger) *Lister {
	return &Lister{
		ffmpegPath: "ffmpeg",
		goos:       runtime.GOOS,
		runner:     command.ExecRunner{},
		native:     nativeDevices,
		logger:     logger,
	}
}

// NewListerForTests constructs a lister with injectable dependencies.
func NewListerForTests(
	goos string,
	runner command.Runner,
	native func(ctx context.Context) ([]string, error),
) *Lister {
	return &Lister{
		ffmpegPath: "ffmpeg",
		goos:       goos,
		runner:     runner,
		native:     native,
		logger:     zerolog.Nop(),
	}
}

// List returns capture device names. It never fails: an unavailable tool or
// an empty listing yields an empty slice and callers disable recording.
// Nothing is cached since devices come and go between calls.
func (l *Lister) List(ctx context.Context) []string {
	names := l.listFFmpeg(ctx)
	if len(names) > 0 {
		return names
	}

	if l.native == nil {
		return []string{}
	}
	names, err := l.native(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("native device listing failed")
		return []string{}
	}
	if names == nil {
		names = []string{}
	}
	return names
}

func (l *Lister) listFFmpeg(ctx context.Context) []string {
	args := ListArgs(l.goos)
	result, err := l.runner.Run(ctx, l.ffmpegPath, args...)
	if err != nil && result.NotStarted() {
		l.logger.Warn().Err(err).Msg("ffmpeg unavailable for device listing")
		return nil
	}

	// ffmpeg exits non-zero for the dummy input; the listing is still valid.
	output := result.Stderr + "\n" + result.Stdout
	var names []string
	switch InputFormat(l.goos) {
	case FormatDShow:
		names = parseDShow(output)
	case FormatAVFoundation:
		names = parseAVFoundation(output)
	default:
		names = parsePulseSources(output)
	}

	l.logger.Debug().Int("count", len(names)).Str("driver", InputFormat(l.goos)).Msg("listed capture devices")
	return names
}

// InputFormat returns the ffmpeg capture driver for goos.
func InputFormat(goos string) string {
	switch goos {
	case "windows":
		return FormatDShow
	case "darwin":
		return FormatAVFoundation
	default:
		return FormatPulse
	}
}

// InputSpec returns the ffmpeg -i argument selecting device on goos.
func InputSpec(goos, device string) string {
	switch InputFormat(goos) {
	case FormatDShow:
		return "audio=" + device
	case FormatAVFoundation:
		return ":" + device
	default:
		return device
	}
}

// ListArgs builds the ffmpeg arguments that print capture devices.
func ListArgs(goos string) []string {
	format := InputFormat(goos)
	if format == FormatPulse {
		return []string{"-hide_banner", "-sources", FormatPulse}
	}
	return []string{"-hide_banner", "-list_devices", "true", "-f", format, "-i", "dummy"}
}

// parseDShow extracts quoted names from lines tagged "(audio)".
func parseDShow(output string) []string {
	var names []string
	scanLines(output, func(line string) {
		if !strings.HasSuffix(line, "(audio)") {
			return
		}
		if m := quotedName.FindStringSubmatch(line); m != nil {
			names = append(names, m[1])
		}
	})
	return names
}

// parseAVFoundation extracts "[n] name" entries below the audio header.
func parseAVFoundation(output string) []string {
	var names []string
	inAudio := false
	scanLines(output, func(line string) {
		switch {
		case strings.Contains(line, avAudioBlock):
			inAudio = true
			return
		case strings.Contains(line, "AVFoundation video devices"):
			inAudio = false
			return
		}
		if !inAudio {
			return
		}
		if m := indexedName.FindStringSubmatch(line); m != nil {
			names = append(names, strings.TrimSpace(m[1]))
		}
	})
	return names
}

// parsePulseSources extracts source names from `ffmpeg -sources pulse`.
func parsePulseSources(output string) []string {
	var names []string
	scanLines(output, func(line string) {
		if m := pulseSource.FindStringSubmatch(line); m != nil {
			names = append(names, m[1])
		}
	})
	return names
}

func scanLines(output string, fn func(line string)) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fn(strings.TrimSpace(scanner.Text()))
	}
}
