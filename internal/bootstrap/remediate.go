package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"speech-recorder/internal/command"
	"speech-recorder/internal/config"
	"speech-recorder/internal/domain"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// managersByOS lists package managers in order of preference.
var managersByOS = map[string][]string{
	"darwin":  {"brew"},
	"windows": {"winget", "choco", "scoop"},
	"linux":   {"apt-get", "dnf", "pacman", "zypper", "brew"},
}

// toolPackages maps a tool to its package name per manager. Managers that
// do not ship the tool are omitted.
var toolPackages = map[string]map[string]string{
	"ffmpeg": {
		"brew": "ffmpeg", "apt-get": "ffmpeg", "dnf": "ffmpeg", "pacman": "ffmpeg", "zypper": "ffmpeg",
		"winget": "Gyan.FFmpeg", "choco": "ffmpeg", "scoop": "ffmpeg",
	},
	"python3": {
		"brew": "python", "apt-get": "python3-pip", "dnf": "python3-pip", "pacman": "python-pip", "zypper": "python3-pip",
		"winget": "Python.Python.3.12", "choco": "python", "scoop": "python",
	},
	"whisper-cli": {
		"brew": "whisper-cpp", "pacman": "whisper.cpp", "dnf": "whisper-cpp",
		"winget": "ggerganov.whisper.cpp", "scoop": "whisper-cpp",
	},
}

// whisperAliases are binary names whisper.cpp packages have shipped under.
var whisperAliases = []string{"whisper-cpp", "whisper", "main"}

// fixer applies remediations for failed diagnostic items.
type fixer struct {
	goos       string
	python     string
	whisperCLI string
	home       func() (string, error)
	lookPath   func(string) (string, error)
	runner     command.Runner
	download   func(ctx context.Context, dst, url string) error
	logger     zerolog.Logger
}

func newFixer(python, whisperCLI string, logger zerolog.Logger) *fixer {
	if python == "" {
		python = "python3"
	}
	if whisperCLI == "" {
		whisperCLI = "whisper-cli"
	}
	return &fixer{
		goos:       goruntime.GOOS,
		python:     python,
		whisperCLI: whisperCLI,
		home:       os.UserHomeDir,
		lookPath:   exec.LookPath,
		runner:     command.ExecRunner{},
		download:   downloadURLToFile,
		logger:     logger,
	}
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed
// diagnostic item and returns the refreshed report.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, errors.New("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
	defer cancel()

	fixed, fixErr := a.fixer.fix(ctx, id, settings)
	if fixErr == nil && !reflect.DeepEqual(fixed, settings) {
		if err := a.Store.Save(fixed); err != nil {
			return a.refreshDiagnosticsFromSettings(settings), fmt.Errorf("save settings after fix: %w", err)
		}
		settings = fixed
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	return report, fixErr
}

func (f *fixer) fix(ctx context.Context, id string, settings domain.Settings) (domain.Settings, error) {
	f.logger.Info().Str("item", id).Msg("applying fix")
	switch id {
	case "tool_ffmpeg":
		return settings, f.installTool(ctx, "ffmpeg", "ffmpeg")
	case "tool_" + f.python:
		return settings, f.installTool(ctx, "python3", f.python)
	case "faster_whisper":
		return settings, f.installFasterWhisper(ctx)
	case "tool_" + f.whisperCLI:
		return settings, f.installWhisperCLI(ctx)
	case "model_path":
		model, _ := lookupGGMLModel(defaultGGMLModel)
		if settings.Model != "" {
			if m, ok := lookupGGMLModel(settings.Model); ok {
				model = m
			}
		}
		return f.downloadModel(ctx, settings, model)
	case "output_dir":
		return fixOutputDir(settings)
	case "audio_devices":
		return settings, errors.New("no automatic fix: connect a microphone and allow audio capture for ffmpeg")
	default:
		return settings, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}
}

// installTool installs pkgKey with the first working package manager and
// checks that binary is on PATH afterwards.
func (f *fixer) installTool(ctx context.Context, pkgKey, binary string) error {
	if err := f.runFirstSuccessfulInstall(ctx, f.installPlan(pkgKey)); err != nil {
		return fmt.Errorf("install %s: %w", binary, err)
	}
	if _, err := f.lookPath(binary); err != nil {
		return fmt.Errorf("%s still missing on PATH: %w", binary, err)
	}
	return nil
}

func (f *fixer) installFasterWhisper(ctx context.Context) error {
	args := []string{"-m", "pip", "install", "--user", "--upgrade", "faster-whisper"}
	if err := f.runCommand(ctx, f.python, args...); err != nil {
		return fmt.Errorf("install faster-whisper: %w", err)
	}
	return nil
}

func (f *fixer) installWhisperCLI(ctx context.Context) error {
	if _, err := f.lookPath(f.whisperCLI); err == nil {
		return nil
	}
	if err := f.linkWhisperAlias(); err == nil {
		return nil
	}

	installErr := f.runFirstSuccessfulInstall(ctx, f.installPlan("whisper-cli"))
	if _, err := f.lookPath(f.whisperCLI); err == nil {
		return nil
	}
	if err := f.linkWhisperAlias(); err != nil {
		if installErr != nil {
			return fmt.Errorf("install whisper.cpp: %w", errors.Join(installErr, err))
		}
		return err
	}
	return nil
}

// linkWhisperAlias exposes an installed whisper.cpp binary under the
// configured name via a shim in the local bin dir.
func (f *fixer) linkWhisperAlias() error {
	var source string
	for _, name := range whisperAliases {
		if path, err := f.lookPath(name); err == nil {
			source = path
			break
		}
	}
	if source == "" {
		return fmt.Errorf("no whisper.cpp executable found (tried %s)", strings.Join(whisperAliases, ", "))
	}

	home, err := f.home()
	if err != nil {
		return fmt.Errorf("resolve user home: %w", err)
	}
	binDir := localBinDir(home)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("create local bin directory: %w", err)
	}

	if f.goos == "windows" {
		shim := fmt.Sprintf("@echo off\r\n\"%s\" %%*\r\n", source)
		return os.WriteFile(filepath.Join(binDir, f.whisperCLI+".cmd"), []byte(shim), 0o644)
	}
	escaped := strings.ReplaceAll(source, `"`, `\"`)
	shim := fmt.Sprintf("#!/usr/bin/env sh\nexec \"%s\" \"$@\"\n", escaped)
	return os.WriteFile(filepath.Join(binDir, f.whisperCLI), []byte(shim), 0o755)
}

func (f *fixer) installPlan(pkgKey string) []installOption {
	managers, ok := managersByOS[f.goos]
	if !ok {
		managers = managersByOS["linux"]
	}
	var plan []installOption
	for _, manager := range managers {
		if pkg, ok := toolPackages[pkgKey][manager]; ok {
			plan = append(plan, installOption{manager: manager, commands: installCommands(manager, pkg)})
		}
	}
	return plan
}

func installCommands(manager, pkg string) [][]string {
	switch manager {
	case "apt-get":
		return [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", pkg}}
	case "dnf", "zypper":
		return [][]string{{manager, "install", "-y", pkg}}
	case "pacman":
		return [][]string{{"pacman", "-Sy", "--noconfirm", pkg}}
	case "winget":
		return [][]string{{"winget", "install", "--id", pkg, "--exact", "--accept-source-agreements", "--accept-package-agreements"}}
	case "choco":
		return [][]string{{"choco", "install", pkg, "-y"}}
	default:
		return [][]string{{manager, "install", pkg}}
	}
}

func (f *fixer) runFirstSuccessfulInstall(ctx context.Context, options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for %s", f.goos)
	}

	var errs []error
	for _, option := range options {
		if _, err := f.lookPath(option.manager); err != nil {
			continue
		}
		err := f.runInstallCommands(ctx, option.commands)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", option.manager, err))
	}
	if len(errs) == 0 {
		return fmt.Errorf("no supported package manager found for %s", f.goos)
	}
	return errors.Join(errs...)
}

func (f *fixer) runInstallCommands(ctx context.Context, commands [][]string) error {
	for _, cmd := range commands {
		if err := f.runElevated(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// runElevated retries system package managers through pkexec or sudo on Linux.
func (f *fixer) runElevated(ctx context.Context, cmd []string) error {
	candidates := [][]string{cmd}
	if f.goos == "linux" && requiresElevation(cmd[0]) {
		if _, err := f.lookPath("pkexec"); err == nil {
			candidates = append(candidates, append([]string{"pkexec"}, cmd...))
		}
		if _, err := f.lookPath("sudo"); err == nil {
			candidates = append(candidates, append([]string{"sudo", "-n"}, cmd...))
		}
	}

	var errs []error
	for _, candidate := range candidates {
		err := f.runCommand(ctx, candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (f *fixer) runCommand(ctx context.Context, name string, args ...string) error {
	log := command.Log{Command: name, Args: args}
	f.logger.Debug().Str("cmd", log.String()).Msg("running install command")

	result, err := f.runner.Run(ctx, name, args...)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out", log.String())
	}

	reason := command.LastLine(result.Stderr)
	if reason == "" {
		reason = command.LastLine(result.Stdout)
	}
	if reason == "" {
		return fmt.Errorf("%s failed: %w", log.String(), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", log.String(), err, reason)
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	}
	return false
}

func fixOutputDir(settings domain.Settings) (domain.Settings, error) {
	if settings.OutputDir == "" {
		settings.OutputDir = config.DefaultSettings().OutputDir
	}
	if err := os.MkdirAll(settings.OutputDir, 0o755); err != nil {
		return settings, fmt.Errorf("create output directory %s: %w", settings.OutputDir, err)
	}
	return settings, nil
}

// ensureLocalBinOnPATH prepends the app's bin dir so shims written by fixes
// resolve without a restart.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}
	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(appDir(homeDir), "bin")
}

func localModelsDir(homeDir string) string {
	return filepath.Join(appDir(homeDir), "models")
}

// downloadURLToFile streams url into dst through a temporary file.
func downloadURLToFile(ctx context.Context, dst, url string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := dst + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "speech-recorder")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}
