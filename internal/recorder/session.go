package recorder

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-recorder/internal/command"
	"speech-recorder/internal/domain"
)

// NotRecordingReason is reported by Stop when no session is active.
const NotRecordingReason = "not recording"

// Request describes one recording.
type Request struct {
	Device     string
	OutputPath string
	Bitrate    string
}

// Session is one encoder process plus its progress observer.
type Session struct {
	ID      string
	Request Request

	proc   process
	grace  time.Duration
	stat   func(name string) (os.FileInfo, error)
	logger zerolog.Logger

	active atomic.Bool

	mu       sync.Mutex
	snapshot domain.ProgressSnapshot

	updates  chan domain.ProgressSnapshot
	observed chan struct{}
	exited   chan struct{}
	waitErr  error

	stopOnce sync.Once
	result   domain.RecordingResult
}

func newSession(id string, req Request, proc process, grace time.Duration, stat func(string) (os.FileInfo, error), logger zerolog.Logger) *Session {
	s := &Session{
		ID:       id,
		Request:  req,
		proc:     proc,
		grace:    grace,
		stat:     stat,
		logger:   logger,
		updates:  make(chan domain.ProgressSnapshot, 1),
		observed: make(chan struct{}),
		exited:   make(chan struct{}),
	}
	s.active.Store(true)

	go s.observe()
	go s.wait()
	return s
}

// Active reports whether the session is recording: not stopped and the
// encoder still running.
func (s *Session) Active() bool {
	if !s.active.Load() {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Progress returns the latest snapshot with unreported fields defaulted.
func (s *Session) Progress() domain.ProgressSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.WithDefaults()
}

// Updates delivers snapshots as they change. Slow readers only see the most
// recent one. The channel closes when observation ends.
func (s *Session) Updates() <-chan domain.ProgressSnapshot {
	return s.updates
}

// Exited is closed once the encoder process has been reaped.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// observe applies complete progress lines until the stream closes or the
// session is stopped, then drains whatever is left so the encoder never
// blocks on a full pipe while flushing.
func (s *Session) observe() {
	defer close(s.observed)
	defer close(s.updates)

	progress := s.proc.Progress()
	defer progress.Close()

	reader := bufio.NewReader(progress)
	for s.active.Load() {
		line, err := reader.ReadString('\n')
		// A fragment without its newline is an incomplete write; drop it.
		if err == nil && s.active.Load() {
			s.apply(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Debug().Err(err).Msg("progress stream read failed")
			}
			return
		}
	}
	_, _ = io.Copy(io.Discard, reader)
}

func (s *Session) apply(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	s.mu.Lock()
	next := s.snapshot
	switch key {
	case "out_time":
		next.OutTime = value
	case "total_size":
		next.TotalSize = value
	case "speed":
		next.Speed = value
	default:
		s.mu.Unlock()
		return
	}
	s.snapshot = next
	s.mu.Unlock()

	s.publish(next.WithDefaults())
}

func (s *Session) publish(snap domain.ProgressSnapshot) {
	select {
	case s.updates <- snap:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

func (s *Session) wait() {
	err := s.proc.Wait()
	s.waitErr = err
	if s.active.Load() {
		s.logger.Warn().
			Err(err).
			Str("output", s.Request.OutputPath).
			Str("stderr", command.LastLine(s.proc.StderrTail())).
			Msg("encoder exited while recording")
	}
	close(s.exited)
}

// Stop shuts the encoder down gracefully, escalating to a kill after the
// grace period, and reports the outcome. Repeated calls return the same result.
func (s *Session) Stop() domain.RecordingResult {
	s.stopOnce.Do(func() {
		s.result = s.shutdown()
	})
	return s.result
}

func (s *Session) shutdown() domain.RecordingResult {
	s.active.Store(false)

	if _, err := io.WriteString(s.proc.Control(), "q\n"); err != nil {
		s.logger.Warn().Err(err).Msg("send quit to encoder")
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-s.exited:
	case <-timer.C:
		s.logger.Warn().Dur("grace", s.grace).Msg("encoder did not exit in time, killing")
		if err := s.proc.Kill(); err != nil {
			s.logger.Warn().Err(err).Msg("kill encoder")
		}
		<-s.exited
	}

	snap := s.Progress()
	result := domain.RecordingResult{
		OutputFile: s.Request.OutputPath,
		Duration:   snap.OutTime,
		SizeBytes:  snap.SizeBytes(),
		Speed:      snap.Speed,
	}

	info, err := s.stat(s.Request.OutputPath)
	switch {
	case err != nil:
		result.Reason = "output file missing"
	case info.Size() == 0:
		result.Reason = "output file is empty"
	default:
		result.Success = true
	}
	if !result.Success {
		if tail := command.LastLine(s.proc.StderrTail()); tail != "" {
			result.Reason += ": " + tail
		}
	}

	s.logger.Info().
		Bool("success", result.Success).
		Str("output", result.OutputFile).
		Str("duration", result.Duration).
		Int64("size_bytes", result.SizeBytes).
		AnErr("exit", s.waitErr).
		Msg("recording stopped")
	return result
}
