// Command speech-recorder records from a capture device and transcribes
// recordings from the terminal.
//
// Usage:
//
//	speech-recorder devices
//	speech-recorder doctor
//	speech-recorder record [-device NAME] [-no-transcribe]
//	speech-recorder transcribe [-o OUT] FILE
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"speech-recorder/internal/bootstrap"
	"speech-recorder/internal/config"
	"speech-recorder/internal/console"
	"speech-recorder/internal/domain"
	"speech-recorder/internal/jobs"
	"speech-recorder/internal/recorder"
	"speech-recorder/internal/records"
	"speech-recorder/internal/transcribe"
)

const usage = `usage: speech-recorder <command> [flags]

commands:
  devices      list capture devices
  doctor       check external tools, models, and devices
  record       record until Enter or Ctrl+C, then transcribe
  transcribe   transcribe an audio file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	// A second signal gets the default handling and exits.
	context.AfterFunc(ctx, cancel)

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "speech-recorder:", err)
		os.Exit(1)
	}
}

// cliFlags are the settings overrides shared by every command.
type cliFlags struct {
	logDir     string
	configPath string
	python     string
	whisperCLI string
	debug      bool

	device      string
	transcripts string
	language    string
	backend     string
	model       string
	compute     string
	beamSize    int
}

func newFlagSet(name string, f *cliFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&f.logDir, "logpath", "", "log directory (default: OS-specific location)")
	fs.StringVar(&f.configPath, "config", "", "settings file (default: ~/.speech-recorder/settings.json)")
	fs.StringVar(&f.python, "python", "", "python interpreter with faster-whisper installed")
	fs.StringVar(&f.whisperCLI, "whisper-cli", "", "whisper.cpp CLI binary")
	fs.BoolVar(&f.debug, "debug", false, "verbose logging")
	fs.StringVar(&f.device, "device", "", "capture device (default: saved device)")
	fs.StringVar(&f.transcripts, "transcripts", "", "transcript folder (default: saved folder, else next to the audio)")
	fs.StringVar(&f.language, "lang", "", "language code, or auto")
	fs.StringVar(&f.backend, "backend", "", "fasterwhisper or whispercpp")
	fs.StringVar(&f.model, "model", "", "model name, or model file for whispercpp")
	fs.StringVar(&f.compute, "compute", "", "cuda or cpu")
	fs.IntVar(&f.beamSize, "beam", 0, "beam size")
	return fs
}

// apply overlays non-empty flags on saved settings.
func (f *cliFlags) apply(settings domain.Settings) domain.Settings {
	if f.device != "" {
		settings.Device = f.device
	}
	if f.transcripts != "" {
		settings.TranscriptDir = f.transcripts
	}
	if f.language != "" {
		settings.Language = f.language
	}
	if f.backend != "" {
		settings.Backend = domain.Backend(strings.ToLower(f.backend))
	}
	if f.model != "" {
		if settings.Backend == domain.BackendWhisperCpp && strings.ContainsAny(f.model, `/\`) {
			settings.ModelPath = f.model
		} else {
			settings.Model = f.model
		}
	}
	if f.compute != "" {
		settings.ComputeDevice = f.compute
	}
	if f.beamSize > 0 {
		settings.BeamSize = f.beamSize
	}
	return config.Normalize(settings)
}

func run(ctx context.Context, name string, args []string) error {
	var f cliFlags
	fs := newFlagSet(name, &f)
	noTranscribe := false
	output := ""
	switch name {
	case "devices", "doctor":
	case "record":
		fs.BoolVar(&noTranscribe, "no-transcribe", false, "keep the recording without transcribing it")
	case "transcribe":
		fs.StringVar(&output, "o", "", "transcript path (default: input name with .txt in the transcript folder)")
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", name)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := bootstrap.NewServices(bootstrap.Options{
		LogDir:     f.logDir,
		ConfigPath: f.configPath,
		Python:     f.python,
		WhisperCLI: f.whisperCLI,
		Debug:      f.debug,
	})
	if err != nil {
		return err
	}
	defer svc.Shutdown(context.Background())

	saved, err := svc.Store.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	settings := f.apply(saved)

	opts := console.Options{
		TTY: term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd())),
		In:  os.Stdin,
		Out: os.Stdout,
	}

	switch name {
	case "devices":
		return listDevices(ctx, svc, os.Stdout)
	case "doctor":
		return doctor(svc.Checker.Run(ctx, settings), os.Stdout)
	case "record":
		opts.Title = "Speech Recorder"
		return console.Run(ctx, opts, func(rep console.Reporter, stop <-chan struct{}) error {
			path, err := record(svc, settings, rep, stop)
			if err != nil || noTranscribe {
				return err
			}
			saved.Device = settings.Device
			saved.Records = records.Replace(saved.Records, path, path)
			if err := svc.Store.Save(saved); err != nil {
				logger := svc.Logger()
				logger.Warn().Err(err).Msg("remember recording")
			}
			return transcribeFile(context.Background(), svc, settings, path, "", rep)
		})
	default:
		if fs.NArg() != 1 {
			return errors.New("transcribe needs exactly one audio file")
		}
		opts.Title = "Transcribe " + filepath.Base(fs.Arg(0))
		if !opts.TTY {
			opts.In = nil
		}
		return console.Run(ctx, opts, func(rep console.Reporter, stop <-chan struct{}) error {
			jobCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				<-stop
				cancel()
			}()
			return transcribeFile(jobCtx, svc, settings, fs.Arg(0), output, rep)
		})
	}
}

func listDevices(ctx context.Context, svc *bootstrap.Services, out io.Writer) error {
	names := svc.Devices.List(ctx)
	if len(names) == 0 {
		return errors.New("no capture devices found")
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}

func doctor(report domain.DiagnosticReport, out io.Writer) error {
	for _, item := range report.Items {
		fmt.Fprintf(out, "%-5s %-16s %s\n", item.Status, item.Name, item.Message)
		if item.Hint != "" && item.Status != domain.DiagnosticStatusPass {
			fmt.Fprintf(out, "      %s\n", item.Hint)
		}
	}
	if report.HasFailures {
		return errors.New("some checks failed")
	}
	return nil
}

// record captures until stop closes or the encoder exits on its own.
func record(svc *bootstrap.Services, settings domain.Settings, rep console.Reporter, stop <-chan struct{}) (string, error) {
	if settings.Device == "" {
		return "", errors.New("no capture device: pass -device (see `speech-recorder devices`)")
	}
	outputDir := settings.OutputDir
	if outputDir == "" {
		outputDir = config.DefaultSettings().OutputDir
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	sess, err := svc.Recorder.Start(recorder.Request{
		Device:     settings.Device,
		OutputPath: filepath.Join(outputDir, records.NewName(time.Now())),
		Bitrate:    settings.Bitrate,
	})
	if err != nil {
		return "", err
	}
	rep.Recording(settings.Device, sess.Request.OutputPath)

	updates := sess.Updates()
	for waiting := true; waiting; {
		select {
		case snap, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			rep.Progress(snap)
		case <-stop:
			waiting = false
		case <-sess.Exited():
			waiting = false
		}
	}

	result := svc.Recorder.Stop()
	rep.Stopped(result)
	if err := recorder.ResultErr(result); err != nil {
		return "", err
	}
	return result.OutputFile, nil
}

// transcribeFile runs one job through the driver, tracking it in a jobs.Manager.
func transcribeFile(ctx context.Context, svc *bootstrap.Services, settings domain.Settings, input, output string, rep console.Reporter) error {
	manager := jobs.NewManager()
	if err := manager.Start(uuid.NewString(), input); err != nil {
		return err
	}
	rep.Stage(domain.JobStatusCreated)

	path, err := svc.Driver.Transcribe(ctx, transcribe.Request{
		InputPath:  input,
		OutputPath: transcriptOutput(input, output, settings),
		Params:     transcribe.ParamsFromSettings(settings),
		OnStage: func(status domain.JobStatus) {
			if manager.Transition(status) == nil {
				rep.Stage(status)
			}
		},
		OnPercent: func(pct int) {
			if manager.SetPercent(pct) == nil {
				rep.Percent(pct)
			}
		},
	})
	if err != nil {
		_ = manager.Fail()
		rep.Stage(domain.JobStatusFailed)
		return err
	}
	if err := manager.Complete(path); err != nil {
		logger := svc.Logger()
		logger.Warn().Err(err).Msg("complete job")
	}
	rep.Transcript(path)
	return nil
}

// transcriptOutput returns output, or the input's path in the transcript
// folder when output is empty.
func transcriptOutput(input, output string, settings domain.Settings) string {
	if output = strings.TrimSpace(output); output != "" {
		return output
	}
	return records.TranscriptPath(input, settings.TranscriptDir)
}
