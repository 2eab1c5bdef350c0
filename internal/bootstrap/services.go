package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"speech-recorder/internal/config"
	"speech-recorder/internal/devices"
	"speech-recorder/internal/diagnostics"
	"speech-recorder/internal/domain"
	"speech-recorder/internal/logging"
	"speech-recorder/internal/recorder"
	"speech-recorder/internal/transcribe"
)

// Options configures service construction for the GUI and the CLI.
type Options struct {
	LogDir     string    // empty resolves SPEECH_RECORDER_LOG_PATH, then the OS default
	Console    io.Writer // optional human-readable log sink
	ConfigPath string    // empty means ~/.speech-recorder/settings.json
	Python     string
	WhisperCLI string
	Debug      bool
}

// Services bundles the long-lived components shared by every front end.
type Services struct {
	Store    *config.JSONStore
	Log      *logging.Logger
	Console  *logging.Buffer
	Devices  *devices.Lister
	Recorder *recorder.Supervisor
	Models   *transcribe.ModelCache
	Driver   *transcribe.Driver
	Checker  *diagnostics.Checker
}

// NewServices opens the diagnostics log and wires recorder and transcription.
func NewServices(opts Options) (*Services, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	logDir, err := logging.ResolveDir(opts.LogDir)
	if err != nil {
		return nil, fmt.Errorf("resolve log directory: %w", err)
	}
	console := logging.NewBuffer(logging.DefaultBufferLines)
	log, err := logging.New(logging.Options{
		Dir:     logDir,
		Console: opts.Console,
		Buffer:  console,
		Debug:   opts.Debug,
	})
	if err != nil {
		return nil, err
	}
	logger := log.Logger

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(appDir(homeDir), "settings.json")
	}

	lister := devices.NewLister(logger.With().Str("component", "devices").Logger())
	cache := transcribe.NewModelCache(transcribe.BackendLoader{
		domain.BackendFasterWhisper: transcribe.NewFasterWhisperLoader(opts.Python, logger),
		domain.BackendWhisperCpp:    transcribe.NewWhisperCppLoader(opts.WhisperCLI, logger),
	}, logger.With().Str("component", "models").Logger())

	logger.Info().Str("logDir", logDir).Str("config", configPath).Msg("services ready")

	return &Services{
		Store:    config.NewJSONStore(configPath),
		Log:      log,
		Console:  console,
		Devices:  lister,
		Recorder: recorder.NewSupervisor(logger.With().Str("component", "recorder").Logger()),
		Models:   cache,
		Driver:   transcribe.NewDriver(cache, logger.With().Str("component", "transcribe").Logger()),
		Checker:  diagnostics.NewChecker(opts.Python, opts.WhisperCLI, lister.List),
	}, nil
}

// Logger returns the shared structured logger.
func (s *Services) Logger() zerolog.Logger {
	return s.Log.Logger
}

// Shutdown stops an active recording and releases model workers.
func (s *Services) Shutdown(context.Context) error {
	var errs []error
	if s.Recorder.Active() {
		result := s.Recorder.Stop()
		logger := s.Logger()
		logger.Info().Bool("success", result.Success).Str("file", result.OutputFile).Msg("recording stopped on shutdown")
	}
	errs = append(errs, s.Models.Close())
	errs = append(errs, s.Log.Close())
	return errors.Join(errs...)
}

func appDir(homeDir string) string {
	return filepath.Join(homeDir, ".speech-recorder")
}
