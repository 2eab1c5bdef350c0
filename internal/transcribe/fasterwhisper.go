package transcribe

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-recorder/internal/command"
)

//go:embed assets/faster_whisper_worker.py
var workerScript []byte

const workerScriptName = "faster_whisper_worker.py"

// workerRequest is one transcription request line sent to the worker.
type workerRequest struct {
	Audio     string `json:"audio"`
	Language  string `json:"language,omitempty"`
	BeamSize  int    `json:"beam_size"`
	VADFilter bool   `json:"vad_filter"`
	Progress  bool   `json:"progress"`
}

// workerEvent is one line emitted by the worker.
type workerEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`

	ProgressCallback bool `json:"progress_callback,omitempty"`

	Elapsed      float64 `json:"elapsed,omitempty"`
	Total        float64 `json:"total,omitempty"`
	SegmentsDone int     `json:"segments_done,omitempty"`

	Start float64 `json:"start,omitempty"`
	End   float64 `json:"end,omitempty"`
	Text  string  `json:"text,omitempty"`

	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// worker is a running helper process speaking newline-delimited JSON.
type worker struct {
	in     io.WriteCloser
	out    *bufio.Reader
	stderr *command.TailBuffer
	wait   func() error
	kill   func() error
}

// next returns the next event, skipping any non-JSON output.
func (w *worker) next() (workerEvent, error) {
	for {
		line, err := w.out.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 && line[0] == '{' {
			var ev workerEvent
			if jsonErr := json.Unmarshal(line, &ev); jsonErr == nil {
				return ev, nil
			}
		}
		if err != nil {
			return workerEvent{}, err
		}
	}
}

func (w *worker) send(req workerRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = w.in.Write(append(data, '\n'))
	return err
}

func (w *worker) exitReason(err error) error {
	if tail := command.LastLine(w.stderr.String()); tail != "" {
		return fmt.Errorf("%w: %s", err, tail)
	}
	return err
}

type workerStarter func(name string, args []string) (*worker, error)

func startExecWorker(name string, args []string) (*worker, error) {
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := command.NewTailBuffer(16 << 10)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &worker{
		in:     stdin,
		out:    bufio.NewReader(stdout),
		stderr: stderr,
		wait:   cmd.Wait,
		kill:   cmd.Process.Kill,
	}, nil
}

// FasterWhisperLoader starts one python worker per distinct model.
type FasterWhisperLoader struct {
	python    string
	scriptDir string
	start     workerStarter
	logger    zerolog.Logger

	mu sync.Mutex
}

// NewFasterWhisperLoader uses python to run the bundled worker script.
func NewFasterWhisperLoader(python string, logger zerolog.Logger) *FasterWhisperLoader {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return newFasterWhisperLoader(python, filepath.Join(dir, "speech-recorder"), startExecWorker, logger)
}

func newFasterWhisperLoader(python, scriptDir string, start workerStarter, logger zerolog.Logger) *FasterWhisperLoader {
	if strings.TrimSpace(python) == "" {
		python = "python3"
	}
	return &FasterWhisperLoader{
		python:    python,
		scriptDir: scriptDir,
		start:     start,
		logger:    logger.With().Str("backend", "fasterwhisper").Logger(),
	}
}

// Load starts a worker and waits until the model is resident.
func (l *FasterWhisperLoader) Load(ctx context.Context, params Params) (Model, error) {
	if params.Model == "" {
		return nil, errors.New("model name is required")
	}
	script, err := l.scriptPath()
	if err != nil {
		return nil, fmt.Errorf("install worker script: %w", err)
	}

	args := []string{
		script,
		"--model", params.Model,
		"--device", params.Device,
		"--compute-type", params.ComputeType,
	}
	w, err := l.start(l.python, args)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", l.python, err)
	}

	type ready struct {
		ev  workerEvent
		err error
	}
	readyCh := make(chan ready, 1)
	go func() {
		ev, err := w.next()
		readyCh <- ready{ev: ev, err: err}
	}()

	var r ready
	select {
	case <-ctx.Done():
		_ = w.kill()
		_ = w.wait()
		return nil, ctx.Err()
	case r = <-readyCh:
	}

	switch {
	case r.err != nil:
		_ = w.kill()
		_ = w.wait()
		return nil, w.exitReason(fmt.Errorf("worker exited before ready: %w", r.err))
	case r.ev.Type == "error":
		_ = w.kill()
		_ = w.wait()
		return nil, errors.New(r.ev.Message)
	case r.ev.Type != "ready":
		_ = w.kill()
		_ = w.wait()
		return nil, fmt.Errorf("unexpected worker event %q", r.ev.Type)
	}

	l.logger.Info().
		Str("model", params.Model).
		Bool("progress", r.ev.ProgressCallback).
		Msg("speech model ready")

	return &fasterWhisperModel{
		w:      w,
		caps:   Capabilities{Progress: r.ev.ProgressCallback, VAD: true},
		logger: l.logger,
	}, nil
}

func (l *FasterWhisperLoader) scriptPath() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.scriptDir, workerScriptName)
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, workerScript) {
		return path, nil
	}
	if err := os.MkdirAll(l.scriptDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, workerScript, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// fasterWhisperModel runs one job at a time on its worker.
type fasterWhisperModel struct {
	w      *worker
	caps   Capabilities
	logger zerolog.Logger

	mu     sync.Mutex
	closed atomic.Bool
}

func (m *fasterWhisperModel) Capabilities() Capabilities { return m.caps }

// Alive reports whether the worker is still usable.
func (m *fasterWhisperModel) Alive() bool { return !m.closed.Load() }

func (m *fasterWhisperModel) Transcribe(ctx context.Context, audioPath string, opts Options) (iter.Seq2[Segment, error], error) {
	if opts.OnProgress != nil && !m.caps.Progress {
		return nil, errors.New("progress callback is not supported by the installed faster-whisper")
	}

	req := workerRequest{
		Audio:     audioPath,
		Language:  opts.Language,
		BeamSize:  opts.BeamSize,
		VADFilter: opts.VADFilter,
		Progress:  opts.OnProgress != nil,
	}

	return func(yield func(Segment, error) bool) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed.Load() {
			yield(Segment{}, errors.New("model is closed"))
			return
		}
		if err := ctx.Err(); err != nil {
			yield(Segment{}, err)
			return
		}
		if err := m.w.send(req); err != nil {
			yield(Segment{}, m.w.exitReason(fmt.Errorf("send request: %w", err)))
			return
		}

		// The worker cannot abort a running request, so cancellation kills it.
		stop := context.AfterFunc(ctx, func() {
			m.closed.Store(true)
			_ = m.w.kill()
		})
		defer stop()

		// The worker finishes every request, so events are read through "done"
		// even after the consumer stops.
		consuming := true
		for {
			ev, err := m.w.next()
			if err != nil {
				m.closed.Store(true)
				_ = m.w.kill()
				_ = m.w.wait()
				if !consuming {
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(Segment{}, ctxErr)
					return
				}
				yield(Segment{}, m.w.exitReason(fmt.Errorf("worker stopped: %w", err)))
				return
			}

			switch ev.Type {
			case "info":
				m.logger.Info().Str("language", ev.Language).Float64("duration", ev.Duration).Msg("transcription started")
			case "progress":
				if opts.OnProgress != nil {
					opts.OnProgress(Progress{Elapsed: ev.Elapsed, Total: ev.Total, SegmentsDone: ev.SegmentsDone})
				}
			case "segment":
				if consuming {
					consuming = yield(Segment{Start: ev.Start, End: ev.End, Text: ev.Text}, nil)
				}
			case "error":
				if consuming {
					yield(Segment{}, &JobError{Stage: StageTranscribe, Message: ev.Message})
				}
				return
			case "done":
				return
			}
		}
	}, nil
}

// Close stops the worker, waiting for a running job to finish first.
func (m *fasterWhisperModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	_ = m.w.in.Close()
	done := make(chan error, 1)
	go func() { done <- m.w.wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		_ = m.w.kill()
		return <-done
	}
}
