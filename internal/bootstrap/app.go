// Package bootstrap wires configuration, recording, transcription, and the
// desktop runtime into one application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"speech-recorder/internal/config"
	"speech-recorder/internal/domain"
	"speech-recorder/internal/jobs"
	"speech-recorder/internal/logging"
	"speech-recorder/internal/recorder"
	"speech-recorder/internal/records"
	"speech-recorder/internal/transcribe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.mp3;*.wav;*.m4a;*.flac;*.aac;*.ogg;*.opus;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var modelDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Whisper models",
		Pattern:     "*.bin;*.gguf",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// recordingService is the recorder surface the App drives.
type recordingService interface {
	Start(req recorder.Request) (*recorder.Session, error)
	Stop() domain.RecordingResult
	Progress() domain.ProgressSnapshot
	Active() bool
}

// transcriber isolates the transcription driver behind an interface.
type transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (string, error)
}

type deviceLister interface {
	List(ctx context.Context) []string
}

type diagnosticsRunner interface {
	Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport
}

// RecordingStatus is the polled view of the current recording.
type RecordingStatus struct {
	Active   bool                    `json:"active"`
	Progress domain.ProgressSnapshot `json:"progress"`
	Size     string                  `json:"size"`
}

// App wires configuration, recording, jobs, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Diagnostics domain.DiagnosticReport

	recorder recordingService
	driver   transcriber
	devices  deviceLister
	checker  diagnosticsRunner
	fixer    *fixer
	console  *logging.Buffer
	logger   zerolog.Logger
	services *Services
	assets   fs.FS
	now      func() time.Time
	open     func(path string) error
	follow   func(sess *recorder.Session)

	mu         sync.Mutex
	events     *jobs.EventBus
	runtimeCtx context.Context
	running    sync.WaitGroup
	following  *recorder.Session
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	services, err := NewServices(Options{})
	if err != nil {
		return nil, err
	}

	settings, err := services.Store.Load()
	if err != nil {
		_ = services.Shutdown(context.Background())
		return nil, fmt.Errorf("load settings: %w", err)
	}

	app := newApp(
		services.Store,
		services.Recorder,
		services.Driver,
		services.Devices,
		services.Checker,
		services.Console,
		services.Logger(),
	)
	app.services = services
	app.assets = assets
	app.Settings = settings
	app.Diagnostics = app.checker.Run(context.Background(), settings)
	return app, nil
}

func newApp(
	store config.Store,
	rec recordingService,
	driver transcriber,
	devices deviceLister,
	checker diagnosticsRunner,
	console *logging.Buffer,
	logger zerolog.Logger,
) *App {
	app := &App{
		Settings: config.DefaultSettings(),
		Store:    store,
		Jobs:     jobs.NewManager(),
		recorder: rec,
		driver:   driver,
		devices:  devices,
		checker:  checker,
		fixer:    newFixer("", "", logger),
		console:  console,
		logger:   logger,
		now:      time.Now,
		open:     openWithSystem,
		events:   jobs.NewEventBus(jobs.DefaultMaxEvents),
	}
	app.follow = app.forwardProgress
	return app
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Speech Recorder",
		Width:       960,
		Height:      720,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown stops any recording and releases model workers.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	if a.services != nil {
		if err := a.services.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown")
		}
		return
	}
	if a.recorder.Active() {
		a.recorder.Stop()
	}
}

// ListDevices returns the capture devices ffmpeg can record from.
func (a *App) ListDevices() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.devices.List(ctx)
}

// StartRecording begins capturing device (or the saved device) into a new
// timestamped file in the output directory and returns its path.
func (a *App) StartRecording(device string) (string, error) {
	settings := a.currentSettings()
	device = strings.TrimSpace(device)
	if device == "" {
		device = settings.Device
	}
	if device == "" {
		return "", errors.New("no input device selected")
	}

	if err := os.MkdirAll(settings.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	req := recorder.Request{
		Device:     device,
		OutputPath: filepath.Join(settings.OutputDir, records.NewName(a.now())),
		Bitrate:    settings.Bitrate,
	}
	sess, err := a.recorder.Start(req)
	if err != nil {
		a.logger.Error().Err(err).Str("device", device).Msg("recording failed to start")
		return "", err
	}

	outputPath := req.OutputPath
	if sess != nil {
		outputPath = sess.Request.OutputPath
		if a.claimSession(sess) {
			go a.follow(sess)
		}
	}

	if settings.Device != device {
		settings.Device = device
		if err := a.saveSettings(settings); err != nil {
			a.logger.Warn().Err(err).Msg("remember device")
		}
	}

	a.logger.Info().Str("device", device).Str("file", outputPath).Msg("Recording started")
	return outputPath, nil
}

// claimSession reports whether sess is new to the App. Start returns the
// running session on a duplicate call, which already has a forwarder.
func (a *App) claimSession(sess *recorder.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.following == sess {
		return false
	}
	a.following = sess
	return true
}

// forwardProgress pushes snapshots to the UI until the session ends.
func (a *App) forwardProgress(sess *recorder.Session) {
	for snap := range sess.Updates() {
		a.mu.Lock()
		ctx := a.runtimeCtx
		a.mu.Unlock()
		if ctx != nil {
			wailsruntime.EventsEmit(ctx, "recording:progress", RecordingStatus{
				Active:   true,
				Progress: snap,
				Size:     records.FormatSize(snap.SizeBytes()),
			})
		}
	}
}

// RecordingProgress returns the latest encoder progress.
func (a *App) RecordingProgress() RecordingStatus {
	snap := a.recorder.Progress()
	return RecordingStatus{
		Active:   a.recorder.Active(),
		Progress: snap,
		Size:     records.FormatSize(snap.SizeBytes()),
	}
}

// StopRecording ends the recording. A successful file is added to the
// library and transcribed in the background.
func (a *App) StopRecording() domain.RecordingResult {
	result := a.recorder.Stop()
	if !result.Success {
		if result.Reason != recorder.NotRecordingReason {
			a.logger.Error().Str("reason", result.Reason).Msg("Record failed")
		}
		return result
	}

	a.logger.Info().
		Str("file", result.OutputFile).
		Str("size", records.FormatSize(result.SizeBytes)).
		Msg("Saved recording")

	settings := a.currentSettings()
	settings.Records = records.Replace(settings.Records, result.OutputFile, result.OutputFile)
	if err := a.saveSettings(settings); err != nil {
		a.logger.Warn().Err(err).Msg("remember recording")
	}

	if a.Jobs.IsRunning() {
		a.logger.Warn().Str("file", result.OutputFile).Msg("transcription busy, recording kept for later")
		return result
	}
	if _, err := a.StartTranscription(result.OutputFile); err != nil {
		a.logger.Error().Err(err).Str("file", result.OutputFile).Msg("transcription not started")
	}
	return result
}

// StartTranscription creates a job and runs it asynchronously.
func (a *App) StartTranscription(inputPath string) (domain.Job, error) {
	inputPath = strings.TrimSpace(inputPath)
	if inputPath == "" {
		return domain.Job{}, errors.New("input audio path is required")
	}
	settings := a.currentSettings()

	jobID := uuid.NewString()
	if err := a.Jobs.Start(jobID, inputPath); err != nil {
		return domain.Job{}, err
	}
	a.publishStatus(jobID, domain.JobStatusCreated, "Job started")

	a.running.Add(1)
	go a.runTranscriptionJob(jobID, inputPath, settings)
	return a.Jobs.Current(), nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// ConsoleLines returns the recent log lines for the console panel.
func (a *App) ConsoleLines() []string {
	if a.console == nil {
		return nil
	}
	return a.console.Lines()
}

// runTranscriptionJob executes the driver and maps outcomes to job events.
func (a *App) runTranscriptionJob(jobID, inputPath string, settings domain.Settings) {
	defer a.running.Done()

	logger := a.logger.With().Str("job", jobID).Logger()
	req := transcribe.Request{
		InputPath:  inputPath,
		OutputPath: records.TranscriptPath(inputPath, settings.TranscriptDir),
		Params:     transcribe.ParamsFromSettings(settings),
		OnStage: func(status domain.JobStatus) {
			if status == domain.JobStatusCreated {
				return
			}
			if err := a.Jobs.Transition(status); err == nil {
				a.publishStatus(jobID, status, "Job "+string(status))
			}
		},
		OnPercent: func(pct int) {
			if err := a.Jobs.SetPercent(pct); err != nil {
				return
			}
			logger.Info().Msgf("Progress %d%%", pct)
			a.publishEvent(jobs.ProgressEvent(jobID, pct))
		},
	}

	outputPath, err := a.driver.Transcribe(context.Background(), req)
	if err != nil {
		logger.Error().Err(err).Msg("transcription failed")
		_ = a.Jobs.Fail()
		a.publishStatus(jobID, domain.JobStatusFailed, "Job failed")

		event := jobs.Event{
			JobID:   jobID,
			Type:    jobs.EventTypeError,
			Status:  domain.JobStatusFailed,
			Message: err.Error(),
		}
		var jobErr *transcribe.JobError
		if errors.As(err, &jobErr) {
			event.Stage = jobErr.Stage
		}
		a.publishEvent(event)

		if jobErr != nil && jobErr.CommandLog.Command != "" {
			a.publishEvent(jobs.CommandEvent(jobID, jobErr.CommandLog))
		}
		return
	}

	if err := a.Jobs.Complete(outputPath); err != nil {
		logger.Warn().Err(err).Msg("complete job")
	}
	logger.Info().Str("transcript", outputPath).Msg("Transcript written")
	a.publishEvent(jobs.Event{
		JobID:      jobID,
		Type:       jobs.EventTypeResult,
		Status:     domain.JobStatusDone,
		Message:    "Transcript written",
		Percent:    100,
		OutputPath: outputPath,
	})
}

// Records lists the recordings in the library that still exist on disk.
func (a *App) Records() []records.Entry {
	settings := a.currentSettings()
	return records.List(settings.Records, settings.TranscriptDir)
}

// RenameRecord renames a recording and its transcript.
func (a *App) RenameRecord(path, newName string) (string, error) {
	settings := a.currentSettings()
	newPath, err := records.Rename(path, newName, settings.TranscriptDir)
	if err != nil && newPath == "" {
		return "", err
	}

	settings.Records = records.Replace(settings.Records, path, newPath)
	if saveErr := a.saveSettings(settings); saveErr != nil {
		return newPath, fmt.Errorf("save settings: %w", saveErr)
	}
	return newPath, err
}

// DeleteRecord removes a recording, its transcript, and its library entry.
func (a *App) DeleteRecord(path string) error {
	settings := a.currentSettings()
	if err := records.Delete(path, settings.TranscriptDir); err != nil {
		return err
	}
	settings.Records = records.Remove(settings.Records, path)
	return a.saveSettings(settings)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	report := a.checker.Run(context.Background(), settings)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	a.Diagnostics = report
	return report
}

// currentSettings prefers the store and falls back to the cached copy.
func (a *App) currentSettings() domain.Settings {
	settings, err := a.Store.Load()
	if err != nil {
		a.logger.Warn().Err(err).Msg("load settings")
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.Settings
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()
	return settings
}

func (a *App) saveSettings(settings domain.Settings) error {
	if err := a.Store.Save(settings); err != nil {
		return err
	}
	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()
	return nil
}

// PickAudioFile opens a native file dialog for choosing audio to transcribe.
func (a *App) PickAudioFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select audio file",
		Filters: audioDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickModelFile opens a native file dialog for whisper.cpp model selection.
func (a *App) PickModelFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select whisper model",
		Filters: modelDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker for recordings.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select recordings folder",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickTranscriptDirectory opens a native directory picker for transcripts.
func (a *App) PickTranscriptDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select transcripts folder",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenTranscript opens the transcript of the recording at audioPath with the
// system's default application.
func (a *App) OpenTranscript(audioPath string) error {
	audioPath = strings.TrimSpace(audioPath)
	if audioPath == "" {
		return errors.New("recording path is empty")
	}
	txt := records.TranscriptPath(audioPath, a.currentSettings().TranscriptDir)
	if _, err := os.Stat(txt); err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	return a.open(txt)
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.currentSettings().OutputDir
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return a.open(openPath)
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.StatusEvent(jobID, status, message))
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openWithSystem hands path to the platform opener: folders open in the file
// manager, files in their default application.
func openWithSystem(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return nil
}
