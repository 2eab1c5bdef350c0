package config

import (
	"os"
	"path/filepath"
	"strings"

	"speech-recorder/internal/domain"
)

// Baseline values applied on first launch and by Normalize.
const (
	DefaultLanguage      = "auto"
	DefaultModel         = "large-v3"
	DefaultComputeDevice = "cuda"
	DefaultBeamSize      = 5
	DefaultBitrate       = "128k"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		OutputDir:     filepath.Join(homeDir, "Documents", "Recordings"),
		Language:      DefaultLanguage,
		Backend:       domain.BackendFasterWhisper,
		Model:         DefaultModel,
		ModelPath:     filepath.Join(homeDir, ".speech-recorder", "models"),
		ComputeDevice: DefaultComputeDevice,
		BeamSize:      DefaultBeamSize,
		Bitrate:       DefaultBitrate,
	}
}

// Normalize trims user input and fills empty fields with defaults.
func Normalize(settings domain.Settings) domain.Settings {
	settings.Device = strings.TrimSpace(settings.Device)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.TranscriptDir = strings.TrimSpace(settings.TranscriptDir)
	settings.Language = strings.TrimSpace(settings.Language)
	settings.Model = strings.TrimSpace(settings.Model)
	settings.ModelPath = strings.TrimSpace(settings.ModelPath)
	settings.ComputeDevice = strings.TrimSpace(settings.ComputeDevice)
	settings.Bitrate = strings.TrimSpace(settings.Bitrate)

	if settings.Language == "" {
		settings.Language = DefaultLanguage
	}
	switch settings.Backend {
	case domain.BackendFasterWhisper, domain.BackendWhisperCpp:
	default:
		settings.Backend = domain.BackendFasterWhisper
	}
	if settings.Model == "" {
		settings.Model = DefaultModel
	}
	if settings.ComputeDevice == "" {
		settings.ComputeDevice = DefaultComputeDevice
	}
	if settings.BeamSize <= 0 {
		settings.BeamSize = DefaultBeamSize
	}
	if settings.Bitrate == "" {
		settings.Bitrate = DefaultBitrate
	}
	return settings
}
