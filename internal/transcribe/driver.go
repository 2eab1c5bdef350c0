// Package transcribe converts recorded audio into timestamped transcript files
// using a memoized speech model.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"speech-recorder/internal/domain"
)

// Request describes one transcription job.
type Request struct {
	InputPath  string
	OutputPath string // defaults to InputPath with a .txt extension
	Params     Params

	OnStage    func(status domain.JobStatus)
	OnProgress func(p Progress)
	// OnPercent receives each strictly increasing percentage.
	OnPercent func(pct int)
}

// Driver runs transcription jobs against models from a shared cache.
type Driver struct {
	cache  *ModelCache
	logger zerolog.Logger
}

// NewDriver constructs a driver on top of cache.
func NewDriver(cache *ModelCache, logger zerolog.Logger) *Driver {
	return &Driver{cache: cache, logger: logger}
}

// Transcribe writes one line per segment to the output file and returns its
// absolute path. The output appears only after every segment was written.
func (d *Driver) Transcribe(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return "", &JobError{Stage: StageInput, Message: "input audio path is required"}
	}
	inputPath, err := filepath.Abs(req.InputPath)
	if err != nil {
		return "", &JobError{Stage: StageInput, Message: "cannot resolve input path", Err: err}
	}
	if _, err := os.Stat(inputPath); err != nil {
		return "", &JobError{
			Stage:   StageInput,
			Message: fmt.Sprintf("cannot access input audio: %s", inputPath),
			Err:     err,
		}
	}

	outputPath := strings.TrimSpace(req.OutputPath)
	if outputPath == "" {
		outputPath = DefaultOutputPath(inputPath)
	}
	if outputPath, err = filepath.Abs(outputPath); err != nil {
		return "", &JobError{Stage: StageInput, Message: "cannot resolve output path", Err: err}
	}

	logger := d.logger.With().Str("input", inputPath).Str("output", outputPath).Logger()
	emitStage(req.OnStage, domain.JobStatusCreated)

	params := req.Params.normalized()
	model, err := d.cache.Load(ctx, params)
	if err != nil {
		return "", &JobError{
			Stage:   StageModel,
			Message: fmt.Sprintf("failed to load model %s", params.Model),
			Err:     err,
		}
	}
	emitStage(req.OnStage, domain.JobStatusModelReady)

	caps := model.Capabilities()
	opts := Options{
		Language:  languageOption(params.Language),
		BeamSize:  params.BeamSize,
		VADFilter: caps.VAD,
	}
	if !caps.VAD {
		logger.Debug().Msg("model does not filter silence")
	}
	if caps.Progress {
		tracker := NewPercentTracker()
		opts.OnProgress = func(p Progress) {
			if req.OnProgress != nil {
				req.OnProgress(p)
			}
			if pct, ok := p.Percent(); ok && tracker.Observe(pct) && req.OnPercent != nil {
				req.OnPercent(pct)
			}
		}
	} else {
		logger.Debug().Msg("model does not report progress")
	}

	emitStage(req.OnStage, domain.JobStatusRunning)
	segments, err := model.Transcribe(ctx, inputPath, opts)
	if err != nil {
		return "", asJobError(StageTranscribe, "transcription failed", err)
	}

	count, err := writeSegments(outputPath, segments)
	if err != nil {
		return "", err
	}

	logger.Info().Int("segments", count).Msg("transcript written")
	emitStage(req.OnStage, domain.JobStatusDone)
	return outputPath, nil
}

// writeSegments streams segments into a sibling temp file and renames it into
// place on success. Nothing is left behind on failure.
func writeSegments(outputPath string, segments iter.Seq2[Segment, error]) (int, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return 0, &JobError{
			Stage:   StageWrite,
			Message: fmt.Sprintf("cannot create output directory: %s", filepath.Dir(outputPath)),
			Err:     err,
		}
	}

	partPath := outputPath + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return 0, &JobError{Stage: StageWrite, Message: "cannot create transcript file", Err: err}
	}
	fail := func(err error) (int, error) {
		_ = f.Close()
		_ = os.Remove(partPath)
		return 0, err
	}

	count := 0
	for seg, err := range segments {
		if err != nil {
			return fail(asJobError(StageTranscribe, "transcription failed", err))
		}
		if _, err := f.WriteString(FormatSegment(seg)); err != nil {
			return fail(&JobError{Stage: StageWrite, Message: "cannot write transcript line", Err: err})
		}
		count++
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(partPath)
		return 0, &JobError{Stage: StageWrite, Message: "cannot finalize transcript file", Err: err}
	}
	if err := os.Rename(partPath, outputPath); err != nil {
		_ = os.Remove(partPath)
		return 0, &JobError{Stage: StageWrite, Message: "cannot move transcript into place", Err: err}
	}
	return count, nil
}

// asJobError keeps backend JobErrors intact and wraps everything else.
func asJobError(stage, message string, err error) error {
	var je *JobError
	if errors.As(err, &je) {
		return err
	}
	return &JobError{Stage: stage, Message: message, Err: err}
}

func emitStage(cb func(domain.JobStatus), status domain.JobStatus) {
	if cb != nil {
		cb(status)
	}
}
