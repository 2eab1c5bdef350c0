package diagnostics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"speech-recorder/internal/command"
	"speech-recorder/internal/domain"
)

// fakeRunner answers the faster-whisper import check.
type fakeRunner struct {
	result command.Result
	err    error
	calls  [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.result, f.err
}

func foundTool(name string) (string, error) { return "/usr/local/bin/" + name, nil }

func missingTool(string) (string, error) { return "", errors.New("not found") }

func listDevices(names ...string) func(context.Context) []string {
	return func(context.Context) []string { return names }
}

func newTestChecker(lookPath func(string) (string, error), runner command.Runner, devices func(context.Context) []string) *Checker {
	return NewCheckerForTests(
		lookPath,
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		runner,
		devices,
	)
}

// TestCheckerRunFasterWhisperAllPass validates happy-path diagnostics report.
func TestCheckerRunFasterWhisperAllPass(t *testing.T) {
	runner := &fakeRunner{result: command.Result{Stdout: "1.1.0\n"}}
	checker := newTestChecker(foundTool, runner, listDevices("Built-in Microphone"))

	report := checker.Run(context.Background(), domain.Settings{
		Backend:   domain.BackendFasterWhisper,
		Device:    "Built-in Microphone",
		OutputDir: filepath.Join(t.TempDir(), "output"),
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, "tool_python3", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "faster_whisper", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "audio_devices", domain.DiagnosticStatusPass)
	assertMissingID(t, report, "model_path")
	if len(runner.calls) != 1 || runner.calls[0][0] != "python3" {
		t.Fatalf("runner calls = %v", runner.calls)
	}
}

// TestCheckerRunWhisperCppAllPass validates the whisper.cpp backend checks.
func TestCheckerRunWhisperCppAllPass(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "ggml-base.bin"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	runner := &fakeRunner{}
	checker := newTestChecker(foundTool, runner, listDevices("default"))
	report := checker.Run(context.Background(), domain.Settings{
		Backend:   domain.BackendWhisperCpp,
		ModelPath: modelDir,
		OutputDir: filepath.Join(root, "output"),
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, "tool_whisper-cli", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "model_path", domain.DiagnosticStatusPass)
	if len(runner.calls) != 0 {
		t.Fatalf("python import check should not run for whisper.cpp, calls = %v", runner.calls)
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	runner := &fakeRunner{
		result: command.Result{Stderr: "ModuleNotFoundError: No module named 'faster_whisper'\n", ExitCode: 1},
		err:    errors.New("exit status 1"),
	}
	checker := newTestChecker(missingTool, runner, listDevices())

	report := checker.Run(context.Background(), domain.Settings{OutputDir: ""})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_python3", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "faster_whisper", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "audio_devices", domain.DiagnosticStatusWarn)
}

// TestCheckerRunModelDirectoryWithoutModelFilesFails validates model check.
func TestCheckerRunModelDirectoryWithoutModelFilesFails(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "README.txt"), []byte("no model"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	checker := newTestChecker(foundTool, &fakeRunner{}, listDevices("mic"))
	report := checker.Run(context.Background(), domain.Settings{
		Backend:   domain.BackendWhisperCpp,
		ModelPath: modelDir,
		OutputDir: filepath.Join(root, "output"),
	})

	assertStatusByID(t, report, "model_path", domain.DiagnosticStatusFail)
}

// TestCheckerWarnsOnUnavailableSavedDevice validates device warnings never fail the report.
func TestCheckerWarnsOnUnavailableSavedDevice(t *testing.T) {
	checker := newTestChecker(foundTool, &fakeRunner{}, listDevices("USB Audio"))
	report := checker.Run(context.Background(), domain.Settings{
		Device:    "Headset",
		OutputDir: t.TempDir(),
	})

	assertStatusByID(t, report, "audio_devices", domain.DiagnosticStatusWarn)
	if report.HasFailures {
		t.Fatalf("warnings should not count as failures: %+v", report.Items)
	}
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}

func assertMissingID(t *testing.T, report domain.DiagnosticReport, id string) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			t.Fatalf("unexpected diagnostic item %s", id)
		}
	}
}
