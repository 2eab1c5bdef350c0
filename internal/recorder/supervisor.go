// Package recorder supervises the external encoder that captures audio from
// an input device into a compressed file.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-recorder/internal/devices"
	"speech-recorder/internal/domain"
)

// DefaultGracePeriod is how long Stop waits after the quit keystroke before
// killing the encoder.
const DefaultGracePeriod = 5 * time.Second

// ErrNotRecording is the error form of a Stop with no active session.
var ErrNotRecording = errors.New(NotRecordingReason)

// ResultErr converts a failed stop result to an error. A stop with no active
// session yields ErrNotRecording.
func ResultErr(result domain.RecordingResult) error {
	switch {
	case result.Success:
		return nil
	case result.Reason == NotRecordingReason:
		return ErrNotRecording
	default:
		return errors.New(result.Reason)
	}
}

// Supervisor owns at most one recording session at a time.
type Supervisor struct {
	ffmpegPath string
	goos       string
	grace      time.Duration
	launcher   launcher
	stat       func(name string) (os.FileInfo, error)
	logger     zerolog.Logger

	// mu serializes Start and Stop; current is readable without it so
	// progress polling never waits behind a stop in progress.
	mu      sync.Mutex
	current atomic.Pointer[Session]
}

// NewSupervisor builds a supervisor running the real ffmpeg.
func NewSupervisor(logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		ffmpegPath: "ffmpeg",
		goos:       runtime.GOOS,
		grace:      DefaultGracePeriod,
		launcher:   execLauncher{},
		stat:       os.Stat,
		logger:     logger,
	}
}

// Start launches the encoder for req. While a session is recording, Start is
// a logged no-op that returns the running session.
func (s *Supervisor) Start(req Request) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current.Load(); cur != nil {
		if cur.Active() {
			s.logger.Warn().Str("output", cur.Request.OutputPath).Msg("recording already active, ignoring start")
			return cur, nil
		}
		s.logger.Warn().Str("output", cur.Request.OutputPath).Msg("discarding session whose encoder already exited")
		cur.Stop()
		s.current.Store(nil)
	}

	req.Device = strings.TrimSpace(req.Device)
	req.OutputPath = strings.TrimSpace(req.OutputPath)
	if req.Device == "" {
		return nil, fmt.Errorf("capture device is required")
	}
	if req.OutputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if strings.TrimSpace(req.Bitrate) == "" {
		req.Bitrate = "128k"
	}

	args := buildRecordArgs(s.goos, req)
	proc, err := s.launcher.Launch(s.ffmpegPath, args)
	if err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	id := uuid.NewString()
	sess := newSession(id, req, proc, s.grace, s.stat, s.logger.With().Str("session", id).Logger())
	s.current.Store(sess)

	s.logger.Info().
		Str("session", id).
		Str("device", req.Device).
		Str("output", req.OutputPath).
		Str("bitrate", req.Bitrate).
		Msg("recording started")
	return sess, nil
}

// Stop ends the current session. With nothing recorded it returns a
// non-success result with the "not recording" reason.
func (s *Supervisor) Stop() domain.RecordingResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if cur == nil {
		return domain.RecordingResult{
			Success: false,
			Reason:  NotRecordingReason,
		}
	}

	result := cur.Stop()
	s.current.Store(nil)
	return result
}

// Progress returns the current session's latest snapshot, or defaults.
func (s *Supervisor) Progress() domain.ProgressSnapshot {
	if cur := s.current.Load(); cur != nil {
		return cur.Progress()
	}
	return domain.ProgressSnapshot{}.WithDefaults()
}

// Active reports whether a session is recording.
func (s *Supervisor) Active() bool {
	cur := s.current.Load()
	return cur != nil && cur.Active()
}

// Current returns the session held by the supervisor, if any.
func (s *Supervisor) Current() *Session {
	return s.current.Load()
}

// buildRecordArgs captures from the device into mp3 with machine-readable
// progress on stdout and periodic stats suppressed on stderr.
func buildRecordArgs(goos string, req Request) []string {
	return []string{
		"-hide_banner",
		"-f", devices.InputFormat(goos),
		"-i", devices.InputSpec(goos, req.Device),
		"-c:a", "libmp3lame",
		"-b:a", req.Bitrate,
		"-y",
		"-progress", "pipe:1",
		"-nostats",
		req.OutputPath,
	}
}

// NewSupervisorForTests constructs a supervisor with injectable dependencies.
func NewSupervisorForTests(
	goos string,
	l launcher,
	stat func(name string) (os.FileInfo, error),
	grace time.Duration,
) *Supervisor {
	return &Supervisor{
		ffmpegPath: "ffmpeg",
		goos:       goos,
		grace:      grace,
		launcher:   l,
		stat:       stat,
		logger:     zerolog.Nop(),
	}
}
