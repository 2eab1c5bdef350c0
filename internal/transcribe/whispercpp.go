package transcribe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"speech-recorder/internal/command"
)

var (
	whisperSegmentLine  = regexp.MustCompile(`^\[(\d{2,}):(\d{2}):(\d{2})\.(\d{3}) --> (\d{2,}):(\d{2}):(\d{2})\.(\d{3})\]\s*(.*)$`)
	whisperProgressLine = regexp.MustCompile(`progress\s*=\s*(\d+)%`)
)

// streamProcess is a running command whose output is consumed incrementally.
type streamProcess struct {
	Stdout io.Reader
	Stderr io.Reader
	Wait   func() error
}

type streamStarter func(ctx context.Context, name string, args []string) (*streamProcess, error)

func startExecStream(ctx context.Context, name string, args []string) (*streamProcess, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &streamProcess{Stdout: stdout, Stderr: stderr, Wait: cmd.Wait}, nil
}

// WhisperCppLoader binds ggml model files to the whisper.cpp CLI. Audio is
// converted to 16 kHz mono WAV with ffmpeg before each run.
type WhisperCppLoader struct {
	ffmpegPath  string
	whisperPath string
	runner      command.Runner
	start       streamStarter
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	readDir     func(name string) ([]os.DirEntry, error)
	logger      zerolog.Logger
}

// NewWhisperCppLoader constructs the production loader with OS dependencies.
func NewWhisperCppLoader(whisperPath string, logger zerolog.Logger) *WhisperCppLoader {
	if strings.TrimSpace(whisperPath) == "" {
		whisperPath = "whisper-cli"
	}
	return &WhisperCppLoader{
		ffmpegPath:  "ffmpeg",
		whisperPath: whisperPath,
		runner:      command.ExecRunner{},
		start:       startExecStream,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		readDir:     os.ReadDir,
		logger:      logger.With().Str("backend", "whispercpp").Logger(),
	}
}

// Load resolves the model file; the CLI loads it per run.
func (l *WhisperCppLoader) Load(_ context.Context, params Params) (Model, error) {
	modelPath, err := l.resolveModelPath(params.Model)
	if err != nil {
		return nil, err
	}
	l.logger.Info().Str("model", modelPath).Msg("whisper.cpp model resolved")
	return &whisperCppModel{loader: l, modelPath: modelPath, cpu: params.Device == "cpu"}, nil
}

// resolveModelPath returns model file path from file or directory input.
func (l *WhisperCppLoader) resolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := l.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := l.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

type whisperCppModel struct {
	loader    *WhisperCppLoader
	modelPath string
	cpu       bool
}

// Capabilities reports no VAD: whisper-cli only filters silence with a
// separate VAD model, which is not configured.
func (m *whisperCppModel) Capabilities() Capabilities {
	return Capabilities{Progress: true}
}

func (m *whisperCppModel) Transcribe(ctx context.Context, audioPath string, opts Options) (iter.Seq2[Segment, error], error) {
	l := m.loader
	return func(yield func(Segment, error) bool) {
		tempDir, err := l.mkdirTemp("", "speech-recorder-*")
		if err != nil {
			yield(Segment{}, &JobError{Stage: StagePreprocess, Message: "failed to create temporary workspace", Err: err})
			return
		}
		defer func() { _ = l.removeAll(tempDir) }()

		wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
		args := buildFFmpegArgs(audioPath, wavPath)
		result, runErr := l.runner.Run(ctx, l.ffmpegPath, args...)
		log := command.NewLog(l.ffmpegPath, args, result)
		if runErr != nil {
			yield(Segment{}, &JobError{
				Stage:      StagePreprocess,
				Message:    "ffmpeg audio conversion failed",
				CommandLog: log,
				Err:        runErr,
			})
			return
		}
		if _, err := l.stat(wavPath); err != nil {
			yield(Segment{}, &JobError{
				Stage:      StagePreprocess,
				Message:    "ffmpeg completed but output file is missing",
				CommandLog: log,
				Err:        err,
			})
			return
		}

		whisperArgs := buildWhisperArgs(m.modelPath, wavPath, opts, m.cpu)
		proc, err := l.start(ctx, l.whisperPath, whisperArgs)
		if err != nil {
			yield(Segment{}, &JobError{
				Stage:      StageTranscribe,
				Message:    "whisper.cpp could not be started",
				CommandLog: command.Log{Command: l.whisperPath, Args: whisperArgs, ExitCode: -1},
				Err:        err,
			})
			return
		}

		stderr := command.NewTailBuffer(16 << 10)
		var g errgroup.Group
		g.Go(func() error {
			scanner := bufio.NewScanner(io.TeeReader(proc.Stderr, stderr))
			for scanner.Scan() {
				if pct, ok := parseWhisperProgress(scanner.Text()); ok && opts.OnProgress != nil {
					opts.OnProgress(Progress{Elapsed: float64(pct), Total: 100})
				}
			}
			return scanner.Err()
		})

		consuming := true
		scanner := bufio.NewScanner(proc.Stdout)
		for scanner.Scan() {
			seg, ok := parseWhisperSegment(scanner.Text())
			if !ok || !consuming {
				continue
			}
			consuming = yield(seg, nil)
		}
		_, _ = io.Copy(io.Discard, proc.Stdout)
		_ = g.Wait()

		if err := proc.Wait(); err != nil {
			if consuming {
				yield(Segment{}, &JobError{
					Stage:   StageTranscribe,
					Message: "whisper.cpp transcription failed",
					CommandLog: command.Log{
						Command:  l.whisperPath,
						Args:     whisperArgs,
						ExitCode: command.ExitCode(err),
						Stderr:   stderr.String(),
					},
					Err: err,
				})
			}
			return
		}
		if err := scanner.Err(); err != nil && consuming {
			yield(Segment{}, &JobError{Stage: StageTranscribe, Message: "cannot read whisper.cpp output", Err: err})
		}
	}, nil
}

// parseWhisperSegment parses a `[HH:MM:SS.mmm --> HH:MM:SS.mmm] text` line.
func parseWhisperSegment(line string) (Segment, bool) {
	m := whisperSegmentLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Segment{}, false
	}
	return Segment{
		Start: clockSeconds(m[1:5]),
		End:   clockSeconds(m[5:9]),
		Text:  strings.TrimSpace(m[9]),
	}, true
}

func clockSeconds(parts []string) float64 {
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.Atoi(parts[2])
	ms, _ := strconv.Atoi(parts[3])
	return float64(h*3600+m*60+s) + float64(ms)/1000
}

func parseWhisperProgress(line string) (int, bool) {
	m := whisperProgressLine.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return pct, true
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args that stream segments to stdout and
// progress to stderr.
func buildWhisperArgs(modelPath, audioPath string, opts Options, cpu bool) []string {
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-l", lang,
		"-pp",
	}
	if opts.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(opts.BeamSize))
	}
	if cpu {
		args = append(args, "-ng")
	}
	return args
}

// newWhisperCppLoaderForTests constructs a loader with injectable dependencies.
func newWhisperCppLoaderForTests(
	runner command.Runner,
	start streamStarter,
	stat func(name string) (os.FileInfo, error),
	removeAll func(path string) error,
) *WhisperCppLoader {
	return &WhisperCppLoader{
		ffmpegPath:  "ffmpeg",
		whisperPath: "whisper-cli",
		runner:      runner,
		start:       start,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   removeAll,
		stat:        stat,
		readDir:     os.ReadDir,
		logger:      zerolog.Nop(),
	}
}
