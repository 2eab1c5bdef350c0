// Package diagnostics checks that the external tools, models, and devices the
// recorder depends on are available.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"speech-recorder/internal/command"
	"speech-recorder/internal/domain"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	python     string
	whisperCLI string
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	runner     command.Runner
	devices    func(context.Context) []string
}

// NewChecker builds a checker using real OS dependencies. devices lists the
// capture devices currently visible to ffmpeg.
func NewChecker(python, whisperCLI string, devices func(context.Context) []string) *Checker {
	c := NewCheckerForTests(
		exec.LookPath,
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		command.ExecRunner{},
		devices,
	)
	if python != "" {
		c.python = python
	}
	if whisperCLI != "" {
		c.whisperCLI = whisperCLI
	}
	return c
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{c.checkTool("ffmpeg")}

	switch settings.Backend {
	case domain.BackendWhisperCpp:
		items = append(items,
			c.checkTool(c.whisperCLI),
			c.checkModelPath(settings.ModelPath),
		)
	default:
		items = append(items,
			c.checkTool(c.python),
			c.checkFasterWhisper(ctx),
		)
	}

	items = append(items,
		c.checkOutputDir(settings.OutputDir),
		c.checkDevices(ctx, settings.Device),
	)

	return domain.NewDiagnosticReport(time.Now().UTC(), items)
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(name string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + name,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    "Install it and ensure the binary is available on PATH before recording.",
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + name,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkFasterWhisper verifies the python package imports and reports its version.
func (c *Checker) checkFasterWhisper(ctx context.Context) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "faster_whisper",
		Name: "faster-whisper",
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := c.runner.Run(ctx, c.python, "-c", "import faster_whisper; print(faster_whisper.__version__)")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Python package faster-whisper is not importable."
		if reason := command.LastLine(result.Stderr); reason != "" {
			item.Message += " " + reason
		}
		item.Hint = fmt.Sprintf("Run: %s -m pip install faster-whisper", c.python)
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Version %s", strings.TrimSpace(result.Stdout))
	return item
}

// checkModelPath validates configured model file or model directory.
func (c *Checker) checkModelPath(modelPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_path",
		Name: "Model path",
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model path is empty."
		item.Hint = "Set a valid model file path or a directory containing whisper models."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, fs.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Download a whisper.cpp model and configure the path in settings."
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .bin or .gguf model file in this directory or point to a model file directly."
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set a directory where recordings and transcripts can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for recordings."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// checkDevices warns when no capture device is visible or the saved one is gone.
func (c *Checker) checkDevices(ctx context.Context, selected string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "audio_devices",
		Name: "Audio devices",
	}

	var devices []string
	if c.devices != nil {
		devices = c.devices(ctx)
	}
	switch {
	case len(devices) == 0:
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "No audio capture devices found."
		item.Hint = "Connect a microphone or check that ffmpeg can access audio input."
	case selected != "" && !slices.Contains(devices, selected):
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Saved device is not available: %s", selected)
		item.Hint = "Pick one of the listed devices before recording."
	default:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("%d device(s) available", len(devices))
	}
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	runner command.Runner,
	devices func(context.Context) []string,
) *Checker {
	return &Checker{
		python:     "python3",
		whisperCLI: "whisper-cli",
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		runner:     runner,
		devices:    devices,
	}
}
