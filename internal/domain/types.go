package domain

// JobStatus tracks each stage of a single transcription job.
type JobStatus string

const (
	JobStatusIdle       JobStatus = "idle"
	JobStatusCreated    JobStatus = "created"
	JobStatusModelReady JobStatus = "model_ready"
	JobStatusRunning    JobStatus = "running"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// Backend names a speech model implementation.
type Backend string

const (
	BackendFasterWhisper Backend = "fasterwhisper"
	BackendWhisperCpp    Backend = "whispercpp"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	Device        string   `json:"device"`
	OutputDir     string   `json:"outputDir"`
	TranscriptDir string   `json:"transcriptDir,omitempty"` // empty: next to the audio
	Language      string   `json:"language"`
	Backend       Backend  `json:"backend"`
	Model         string   `json:"model"`
	ModelPath     string   `json:"modelPath,omitempty"`
	ComputeDevice string   `json:"computeDevice"`
	BeamSize      int      `json:"beamSize"`
	Bitrate       string   `json:"bitrate"`
	Records       []string `json:"records,omitempty"`
}

// Job stores the current transcription job identity, status, and progress.
type Job struct {
	ID         string    `json:"id"`
	Status     JobStatus `json:"status"`
	InputPath  string    `json:"inputPath,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
	Percent    int       `json:"percent"`
}

// WhisperModelOption is a downloadable ggml model for the whispercpp backend.
// Downloaded and LocalPath are filled from the local model directories.
type WhisperModelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FileName    string `json:"fileName"`
	URL         string `json:"url"`
	SizeLabel   string `json:"sizeLabel,omitempty"`
	Description string `json:"description,omitempty"`
	Downloaded  bool   `json:"downloaded"`
	LocalPath   string `json:"localPath,omitempty"`
}
