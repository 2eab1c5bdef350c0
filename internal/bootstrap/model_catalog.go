package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"speech-recorder/internal/config"
	"speech-recorder/internal/domain"
)

const (
	ggmlBaseURL          = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"
	defaultGGMLModel     = "base"
	modelDownloadTimeout = 45 * time.Minute
)

type ggmlPreset struct {
	id          string
	name        string
	size        string
	description string
}

var ggmlPresets = []ggmlPreset{
	{"tiny.en", "Tiny (English)", "~75 MB", "Fastest, English-only model."},
	{"tiny", "Tiny (Multilingual)", "~75 MB", "Fastest multilingual model."},
	{"base.en", "Base (English)", "~142 MB", "Balanced speed/quality, English-only."},
	{"base", "Base (Multilingual)", "~142 MB", "Balanced speed/quality, multilingual."},
	{"small", "Small (Multilingual)", "~466 MB", "Higher quality multilingual model."},
	{"medium", "Medium (Multilingual)", "~1.5 GB", "High quality multilingual model."},
	{"large-v3", "Large v3", "~2.9 GB", "Best quality multilingual model."},
	{"large-v3-turbo", "Large v3 Turbo", "~1.6 GB", "Faster large-v3 variant."},
}

func (p ggmlPreset) option() domain.WhisperModelOption {
	file := "ggml-" + p.id + ".bin"
	return domain.WhisperModelOption{
		ID:          p.id,
		Name:        p.name,
		FileName:    file,
		URL:         ggmlBaseURL + file,
		SizeLabel:   p.size,
		Description: p.description,
	}
}

func lookupGGMLModel(id string) (domain.WhisperModelOption, bool) {
	for _, preset := range ggmlPresets {
		if preset.id == id {
			return preset.option(), true
		}
	}
	return domain.WhisperModelOption{}, false
}

// GetWhisperModels returns the whisper.cpp presets, marking those already on disk.
func (a *App) GetWhisperModels() []domain.WhisperModelOption {
	models := make([]domain.WhisperModelOption, 0, len(ggmlPresets))
	for _, preset := range ggmlPresets {
		models = append(models, preset.option())
	}

	home, _ := a.fixer.home()
	markDownloadedModels(models, modelSearchDirs(home, a.currentSettings().ModelPath))
	return models
}

// DownloadWhisperModel fetches a preset and switches settings to whisper.cpp with it.
func (a *App) DownloadWhisperModel(modelID string) (domain.Settings, error) {
	model, ok := lookupGGMLModel(strings.TrimSpace(modelID))
	if !ok {
		return domain.Settings{}, fmt.Errorf("unknown model id: %q", modelID)
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	ctx, cancel := context.WithTimeout(context.Background(), modelDownloadTimeout)
	defer cancel()
	if settings, err = a.fixer.downloadModel(ctx, settings, model); err != nil {
		return domain.Settings{}, err
	}

	if err := a.Store.Save(settings); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	a.refreshDiagnosticsFromSettings(settings)
	return settings, nil
}

// downloadModel stores model next to the configured model path (or in the
// local models dir) and points settings at it.
func (f *fixer) downloadModel(ctx context.Context, settings domain.Settings, model domain.WhisperModelOption) (domain.Settings, error) {
	home, err := f.home()
	if err != nil {
		return settings, fmt.Errorf("resolve user home: %w", err)
	}
	dir, err := modelDownloadDir(home, settings.ModelPath)
	if err != nil {
		return settings, err
	}

	target := filepath.Join(dir, model.FileName)
	f.logger.Info().Str("model", model.ID).Str("target", target).Msg("downloading model")
	if err := f.download(ctx, target, model.URL); err != nil {
		return settings, fmt.Errorf("download model %s: %w", model.Name, err)
	}

	settings.Backend = domain.BackendWhisperCpp
	settings.Model = model.ID
	settings.ModelPath = target
	return settings, nil
}

// modelDownloadDir picks where a new model file goes for the configured path.
func modelDownloadDir(home, modelPath string) (string, error) {
	trimmed := strings.TrimSpace(modelPath)
	if trimmed == "" {
		return localModelsDir(home), nil
	}

	info, err := os.Stat(trimmed)
	switch {
	case err == nil && info.IsDir():
		return trimmed, nil
	case err == nil && isModelFile(trimmed):
		return filepath.Dir(trimmed), nil
	case err == nil:
		return "", fmt.Errorf("model path points to a non-model file: %s", trimmed)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("check model path: %w", err)
	case isModelFile(trimmed):
		return filepath.Dir(trimmed), nil
	default:
		return trimmed, nil
	}
}

// modelSearchDirs lists directories that may already hold downloaded presets.
func modelSearchDirs(home, modelPath string) []string {
	var dirs []string
	if home != "" {
		dirs = append(dirs, localModelsDir(home))
	}
	if dir, err := modelDownloadDir(home, modelPath); err == nil && strings.TrimSpace(modelPath) != "" {
		if clean := filepath.Clean(dir); clean != "." && (len(dirs) == 0 || clean != dirs[0]) {
			dirs = append(dirs, clean)
		}
	}
	return dirs
}

func markDownloadedModels(models []domain.WhisperModelOption, dirs []string) {
	for i := range models {
		for _, dir := range dirs {
			candidate := filepath.Join(dir, models[i].FileName)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				models[i].Downloaded = true
				models[i].LocalPath = candidate
				break
			}
		}
	}
}

func isModelFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin", ".gguf":
		return true
	}
	return false
}
