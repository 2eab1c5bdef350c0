// Package console renders recording and transcription progress in a
// terminal, either as a bubbletea view or as plain log lines.
package console

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"speech-recorder/internal/domain"
	"speech-recorder/internal/records"
)

// Messages sent to the view by a running command.
type (
	RecordingMsg  struct{ Device, Path string }
	ProgressMsg   struct{ Snapshot domain.ProgressSnapshot }
	StoppedMsg    struct{ Result domain.RecordingResult }
	StageMsg      struct{ Status domain.JobStatus }
	PercentMsg    struct{ Percent int }
	TranscriptMsg struct{ Path string }
	DoneMsg       struct{ Err error }
)

type phase int

const (
	phaseIdle phase = iota
	phaseRecording
	phaseTranscribing
	phaseDone
)

const barWidth = 30

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	recStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

// Model is the bubbletea view for one CLI command. Enter, q, and ctrl+c
// call stop; the program quits once DoneMsg arrives.
type Model struct {
	title      string
	stop       func()
	phase      phase
	stopping   bool
	device     string
	path       string
	snapshot   domain.ProgressSnapshot
	result     *domain.RecordingResult
	status     domain.JobStatus
	percent    int
	transcript string
	err        error
}

// NewModel builds a view titled title. stop may be nil.
func NewModel(title string, stop func()) Model {
	if stop == nil {
		stop = func() {}
	}
	return Model{title: title, stop: stop, percent: -1}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			if !m.stopping && m.phase != phaseDone {
				m.stopping = true
				m.stop()
			}
		}

	case RecordingMsg:
		m.phase = phaseRecording
		m.device, m.path = msg.Device, msg.Path
		m.snapshot = domain.ProgressSnapshot{}.WithDefaults()

	case ProgressMsg:
		m.snapshot = msg.Snapshot.WithDefaults()

	case StoppedMsg:
		result := msg.Result
		m.result = &result
		m.stopping = false

	case StageMsg:
		m.phase = phaseTranscribing
		m.status = msg.Status

	case PercentMsg:
		m.percent = msg.Percent

	case TranscriptMsg:
		m.transcript = msg.Path

	case DoneMsg:
		m.phase = phaseDone
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	if m.phase == phaseRecording && m.result == nil {
		fmt.Fprintf(&b, "%s %s  %s  %sx\n",
			recStyle.Render("● REC"),
			m.snapshot.OutTime,
			records.FormatSize(m.snapshot.SizeBytes()),
			strings.TrimSuffix(m.snapshot.Speed, "x"),
		)
		b.WriteString(dimStyle.Render(m.device+" → "+m.path) + "\n")
		if m.stopping {
			b.WriteString(dimStyle.Render("Stopping...") + "\n")
		} else {
			b.WriteString(dimStyle.Render("Press Enter to stop.") + "\n")
		}
	}

	if m.result != nil {
		if m.result.Success {
			b.WriteString(okStyle.Render(fmt.Sprintf("Saved %s (%s, %s)",
				m.result.OutputFile, m.result.Duration, records.FormatSize(m.result.SizeBytes))) + "\n")
		} else {
			b.WriteString(errStyle.Render("Recording failed: "+m.result.Reason) + "\n")
		}
	}

	if m.status != "" {
		fmt.Fprintf(&b, "Transcribing %s %s\n", progressBar(m.percent), dimStyle.Render(string(m.status)))
	}
	if m.transcript != "" {
		b.WriteString(okStyle.Render("Transcript: "+m.transcript) + "\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render("Error: "+m.err.Error()) + "\n")
	}
	return b.String()
}

// progressBar renders pct as a fixed-width bar; negative means unknown.
func progressBar(pct int) string {
	if pct < 0 {
		return dimStyle.Render(strings.Repeat("░", barWidth)) + "   ?%"
	}
	pct = min(pct, 100)
	filled := pct * barWidth / 100
	return barStyle.Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", barWidth-filled)) +
		fmt.Sprintf(" %3d%%", pct)
}
