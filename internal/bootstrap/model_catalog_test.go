package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"speech-recorder/internal/domain"
)

// TestLookupGGMLModel verifies preset lookup and derived URLs.
func TestLookupGGMLModel(t *testing.T) {
	model, ok := lookupGGMLModel("base.en")
	if !ok {
		t.Fatal("expected base.en preset")
	}
	if model.FileName != "ggml-base.en.bin" {
		t.Fatalf("filename = %s, want ggml-base.en.bin", model.FileName)
	}
	if model.URL != ggmlBaseURL+"ggml-base.en.bin" {
		t.Fatalf("url = %s", model.URL)
	}
	if _, ok := lookupGGMLModel("huge"); ok {
		t.Fatal("unexpected preset for unknown id")
	}
}

func TestModelDownloadDir(t *testing.T) {
	home := t.TempDir()
	root := t.TempDir()
	existingDir := filepath.Join(root, "models")
	if err := os.MkdirAll(existingDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	notes := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(notes, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name      string
		modelPath string
		want      string
		wantErr   bool
	}{
		{name: "empty uses local models dir", modelPath: "", want: localModelsDir(home)},
		{name: "existing directory", modelPath: existingDir, want: existingDir},
		{name: "missing model file uses parent", modelPath: filepath.Join(root, "ggml-small.bin"), want: root},
		{name: "missing directory kept", modelPath: filepath.Join(root, "later"), want: filepath.Join(root, "later")},
		{name: "non-model file rejected", modelPath: notes, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := modelDownloadDir(home, tt.modelPath)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("modelDownloadDir() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("dir = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestMarkDownloadedModels flags presets found in any search dir.
func TestMarkDownloadedModels(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "ggml-tiny.bin")
	if err := os.WriteFile(local, []byte("model"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tiny, _ := lookupGGMLModel("tiny")
	base, _ := lookupGGMLModel("base")
	models := []domain.WhisperModelOption{tiny, base}
	markDownloadedModels(models, []string{filepath.Join(dir, "missing"), dir})

	if !models[0].Downloaded || models[0].LocalPath != local {
		t.Fatalf("tiny = %+v", models[0])
	}
	if models[1].Downloaded {
		t.Fatalf("base = %+v", models[1])
	}
}

// TestDownloadWhisperModelSwitchesBackend checks settings after a download.
func TestDownloadWhisperModelSwitchesBackend(t *testing.T) {
	home := t.TempDir()
	store := &fakeStore{settings: domain.Settings{Backend: domain.BackendFasterWhisper, Model: "large-v3"}}
	app := newTestApp(t, store, &fakeRecorder{}, &fakeTranscriber{})

	var gotURL string
	app.fixer = &fixer{
		home: func() (string, error) { return home, nil },
		download: func(_ context.Context, dst, url string) error {
			gotURL = url
			return os.WriteFile(dst, []byte("ggml"), 0o644)
		},
		logger: zerolog.Nop(),
	}
	if err := os.MkdirAll(localModelsDir(home), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	settings, err := app.DownloadWhisperModel("small")
	if err != nil {
		t.Fatalf("DownloadWhisperModel() error = %v", err)
	}

	wantPath := filepath.Join(localModelsDir(home), "ggml-small.bin")
	if settings.Backend != domain.BackendWhisperCpp || settings.Model != "small" || settings.ModelPath != wantPath {
		t.Fatalf("settings = %+v", settings)
	}
	if gotURL != ggmlBaseURL+"ggml-small.bin" {
		t.Fatalf("url = %s", gotURL)
	}
	if store.settings.ModelPath != wantPath {
		t.Fatalf("stored settings = %+v", store.settings)
	}

	models := app.GetWhisperModels()
	for _, m := range models {
		if m.ID == "small" && !m.Downloaded {
			t.Fatal("downloaded preset not marked")
		}
	}

	if _, err := app.DownloadWhisperModel("nope"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}
