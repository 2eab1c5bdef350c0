package transcribe

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"

	"speech-recorder/internal/domain"
)

// Params selects and configures a speech model. Params that differ only in
// per-call decoding options (BeamSize, Language) share one loaded model.
type Params struct {
	Backend     domain.Backend
	Model       string // model id, local weights directory, or model file
	Device      string // cuda, cpu, auto
	ComputeType string
	BeamSize    int
	Language    string // ISO-639-1 code or "auto"
}

// normalized fills defaults so equivalent requests map to one cache key.
func (p Params) normalized() Params {
	p.Model = strings.TrimSpace(p.Model)
	p.Device = strings.ToLower(strings.TrimSpace(p.Device))
	p.Language = strings.TrimSpace(p.Language)
	if p.Backend == "" {
		p.Backend = domain.BackendFasterWhisper
	}
	if p.Device == "" {
		p.Device = "cuda"
	}
	if p.ComputeType == "" {
		p.ComputeType = "int8"
		if p.Device == "cuda" {
			p.ComputeType = "int8_float16"
		}
	}
	if p.BeamSize <= 0 {
		p.BeamSize = 5
	}
	if p.Language == "" {
		p.Language = "auto"
	}
	return p
}

// handleKey identifies the loaded model a Params resolves to. Beam size and
// language are passed per call, so they are not part of it.
func (p Params) handleKey() Params {
	p = p.normalized()
	p.BeamSize = 0
	p.Language = ""
	return p
}

func (p Params) String() string {
	return fmt.Sprintf("%s:%s@%s/%s", p.Backend, p.Model, p.Device, p.ComputeType)
}

// ParamsFromSettings maps persisted settings to model parameters.
func ParamsFromSettings(s domain.Settings) Params {
	model := s.Model
	if s.Backend == domain.BackendWhisperCpp {
		model = s.ModelPath
	}
	return Params{
		Backend:  s.Backend,
		Model:    model,
		Device:   s.ComputeDevice,
		BeamSize: s.BeamSize,
		Language: s.Language,
	}
}

// Segment is one model-produced span of transcribed speech, in seconds.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Progress is the model's own progress signal.
type Progress struct {
	Elapsed      float64
	Total        float64
	SegmentsDone int
}

// Percent is floor(elapsed/total*100); ok is false when total is unknown.
func (p Progress) Percent() (int, bool) {
	if p.Total <= 0 {
		return 0, false
	}
	return int(math.Floor(p.Elapsed / p.Total * 100)), true
}

// Capabilities describes optional features of a loaded model binding.
type Capabilities struct {
	// Progress reports whether Transcribe honors Options.OnProgress.
	Progress bool
	// VAD reports whether Transcribe honors Options.VADFilter. Models without
	// it transcribe silence too.
	VAD bool
}

// Options configures one transcription call.
type Options struct {
	Language  string // empty means auto-detect
	BeamSize  int
	VADFilter bool // skip non-speech; ignored unless Capabilities.VAD
	// OnProgress must stay nil unless the model reports the Progress
	// capability. It may be called from a goroutine other than the consumer's.
	OnProgress func(Progress)
}

// Model is a loaded, reusable speech model handle.
type Model interface {
	Capabilities() Capabilities
	// Transcribe yields segments lazily, in order. The sequence is single-use
	// and must be consumed to completion.
	Transcribe(ctx context.Context, audioPath string, opts Options) (iter.Seq2[Segment, error], error)
}

// Loader constructs models. Loading is expensive and happens at most once
// per distinct Params through ModelCache.
type Loader interface {
	Load(ctx context.Context, params Params) (Model, error)
}

// BackendLoader dispatches to the loader registered for Params.Backend.
type BackendLoader map[domain.Backend]Loader

// Load implements Loader.
func (b BackendLoader) Load(ctx context.Context, params Params) (Model, error) {
	loader, ok := b[params.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown speech backend: %q", params.Backend)
	}
	return loader.Load(ctx, params)
}

// languageOption maps "auto" to the model's auto-detect sentinel.
func languageOption(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
