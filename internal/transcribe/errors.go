package transcribe

import (
	"fmt"

	"speech-recorder/internal/command"
)

// Failure stages reported by JobError.
const (
	StageInput      = "input"
	StagePreprocess = "preprocessing"
	StageModel      = "model"
	StageTranscribe = "transcribing"
	StageWrite      = "writing"
)

// JobError is a stage-aware error with optional command context.
type JobError struct {
	Stage      string      `json:"stage"`
	Message    string      `json:"message"`
	CommandLog command.Log `json:"commandLog"`
	Err        error       `json:"-"`
}

// Error formats job failures for logs and UI.
func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		if e.Err != nil && e.Message == "" {
			return fmt.Sprintf("%s: %v", e.Stage, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *JobError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
