package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// EnvLogPath overrides the default log directory when no flag is given.
const EnvLogPath = "SPEECH_RECORDER_LOG_PATH"

const diagFileName = "diagnostics_log.txt"

// ResolveDir picks the log directory: flag, then environment, then OS default.
func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}
	if envPath := os.Getenv(EnvLogPath); envPath != "" {
		return absolute(envPath)
	}
	return defaultDir()
}

func absolute(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, path), nil
}

// Options configures where diagnostics go.
type Options struct {
	Dir     string
	Console io.Writer // optional, e.g. os.Stderr for the CLI
	Buffer  *Buffer   // optional, backs the GUI console panel
	Debug   bool
}

// Logger owns the diagnostics file behind a zerolog.Logger.
type Logger struct {
	zerolog.Logger

	mu   sync.Mutex
	file *os.File
}

// New opens (appending) the diagnostics log in opts.Dir and returns a logger
// fanning out to the file, the optional console, and the optional buffer.
func New(opts Options) (*Logger, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(opts.Dir, diagFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics log: %w", err)
	}

	writers := []io.Writer{plainWriter(file, "2006-01-02 15:04:05")}
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: "15:04:05"})
	}
	if opts.Buffer != nil {
		writers = append(writers, plainWriter(opts.Buffer, "15:04:05"))
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger()

	return &Logger{Logger: zl, file: file}, nil
}

// Close flushes and closes the diagnostics file. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func plainWriter(out io.Writer, timeFormat string) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: timeFormat,
		NoColor:    true,
	}
}
